package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Log sink
// --------------------------------------------------------------------------

// LogFormat selects how log lines are rendered
type LogFormat int

const (
	// LogFormatText renders "2006-01-02 15:04:05 LEVEL | name | message"
	LogFormatText LogFormat = iota
	// LogFormatJSON renders one JSON object per line, for log collectors
	// reading a long scanning session
	LogFormatJSON
)

// ParseLogFormat converts "text" or "json" into a LogFormat
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("invalid log format: %s. must be one of text, json", format)
	}
}

// logSink is shared by all package loggers. Swapping it redirects loggers
// that were created before.
type logSink struct {
	mu     sync.Mutex
	w      io.Writer
	format LogFormat
	now    func() time.Time
}

// stdout is reserved for command output (fragments, decoded messages)
var sink atomic.Pointer[logSink]

func init() {
	sink.Store(&logSink{w: os.Stderr, format: LogFormatText, now: time.Now})
}

// ConfigureLogging sets the destination and format of all loggers.
// A nil writer selects stderr.
func ConfigureLogging(w io.Writer, format LogFormat) {
	if w == nil {
		w = os.Stderr
	}
	sink.Store(&logSink{w: w, format: format, now: time.Now})
}

type logLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Logger  string `json:"logger"`
	Message string `json:"msg"`
}

func (s *logSink) write(level, name, message string) {
	ts := s.now()

	var line []byte
	switch s.format {
	case LogFormatJSON:
		b, err := json.Marshal(logLine{
			Time:    ts.UTC().Format(time.RFC3339Nano),
			Level:   strings.ToLower(level),
			Logger:  name,
			Message: message,
		})
		if err != nil {
			return
		}
		line = append(b, '\n')
	default:
		line = []byte(fmt.Sprintf("%s %-5s | %-10s | %s\n", ts.Format(time.DateTime), level, name, message))
	}

	s.mu.Lock()
	_, _ = s.w.Write(line)
	s.mu.Unlock()
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dFragLogger is a named package logger. The level is atomic since the
// stores log from concurrent submits while the CLI may change it.
type dFragLogger struct {
	name  string
	level atomic.Int32
}

func (l *dFragLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *dFragLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *dFragLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		sink.Load().write("DEBUG", l.name, fmt.Sprintf(format, args...))
	}
}

func (l *dFragLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		sink.Load().write("INFO", l.name, fmt.Sprintf(format, args...))
	}
}

func (l *dFragLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		sink.Load().write("WARN", l.name, fmt.Sprintf(format, args...))
	}
}

func (l *dFragLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		sink.Load().write("ERROR", l.name, fmt.Sprintf(format, args...))
	}
}

// Panicf always logs and panics, the level only filters the other methods
func (l *dFragLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	sink.Load().write("PANIC", l.name, message)
	panic(message)
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	l := &dFragLogger{name: pkgName}
	l.SetLevel(logger.INFO)
	return l
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// PackageLoggers lists the logger names used by the dFrag packages.
var PackageLoggers = []string{
	"header",
	"transform",
	"tokenizer",
	"serializer",
	"body",
	"store",
	"codec",
	"config",
	"cli",
}

// InitLoggers installs the custom logger factory and sets the level of all
// package loggers.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range PackageLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
