package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/dFrag/lib/codec"
	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/config"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/ValentinKolb/dFrag/lib/store/mstore"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes every flag settable as DFRAG_<FLAG>
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dfrag")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupLogging initializes the package loggers with the configured level
// and format. Logs go to stderr.
func SetupLogging(stderr io.Writer) error {
	format, err := common.ParseLogFormat(viper.GetString("log-format"))
	if err != nil {
		return err
	}
	common.ConfigureLogging(stderr, format)
	return common.InitLoggers(viper.GetString("log-level"))
}

// WriteMetricsIfEnabled prints all metrics to stderr if --metrics is set
func WriteMetricsIfEnabled() {
	if viper.GetBool("metrics") {
		common.WriteMetrics(os.Stderr)
	}
}

// LoadConfig loads the configuration file given by --config
func LoadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("no configuration file given (use --config or DFRAG_CONFIG)")
	}
	return config.Load(path)
}

// OpenDecoder loads the configuration, opens the configured store and builds
// the decoder of all versions. The returned function closes the store.
func OpenDecoder() (*codec.MultiVersionDecoder, store.IFragmentStore, func(), error) {
	conf, err := LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	s, err := conf.OpenStore()
	if err != nil {
		return nil, nil, nil, err
	}
	closeStore := func() {
		if err := s.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing store: %v\n", err)
		}
	}

	d, err := conf.NewDecoder(s)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	log.Debugf("opened %s store, decoding %d protocol versions", conf.Store.Backend, len(d.Codecs()))
	return d, s, closeStore, nil
}

// OpenEncoder loads the configuration and builds the codec of the current
// version. Encoding never touches the configured store.
func OpenEncoder() (*codec.Codec, error) {
	conf, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return conf.NewCodec(conf.Current, mstore.NewStore(store.Options{}))
}
