package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/compress"
	"github.com/ValentinKolb/dFrag/lib/header"
	"github.com/ValentinKolb/dFrag/lib/serializer"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"gopkg.in/yaml.v3"
)

var log = logger.GetLogger("config")

// Store backends
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// --------------------------------------------------------------------------
// Configuration structs
// --------------------------------------------------------------------------

// Config is the configuration of a dFrag sender or receiver.
type Config struct {
	// TestMode disables the identity check of received fragments
	TestMode bool        `toml:"test_mode" yaml:"test_mode" json:"test_mode"`
	Store    StoreConfig `toml:"store" yaml:"store" json:"store"`
	Current  Version     `toml:"current" yaml:"current" json:"current"`
	Legacy   []Version   `toml:"legacy" yaml:"legacy" json:"legacy"`

	// directory of the configuration file, relative paths are resolved against it
	baseDir string
}

// StoreConfig selects the fragment store.
type StoreConfig struct {
	Backend    string `toml:"backend" yaml:"backend" json:"backend"`             // memory (default) or pebble
	Path       string `toml:"path" yaml:"path" json:"path"`                      // directory of the pebble table
	TTLSeconds int64  `toml:"ttl_seconds" yaml:"ttl_seconds" json:"ttl_seconds"` // lifetime of stored fragments
}

// Version describes one protocol version.
type Version struct {
	Tag              uint64 `toml:"tag" yaml:"tag" json:"tag"`
	TagBits          int    `toml:"tag_bits" yaml:"tag_bits" json:"tag_bits"`
	IdentityBits     int    `toml:"identity_bits" yaml:"identity_bits" json:"identity_bits"`
	TransactionBits  int    `toml:"transaction_bits" yaml:"transaction_bits" json:"transaction_bits"`
	CountBits        int    `toml:"count_bits" yaml:"count_bits" json:"count_bits"`
	MaxFragmentBytes int    `toml:"max_fragment_bytes" yaml:"max_fragment_bytes" json:"max_fragment_bytes"`
	Epoch            string `toml:"epoch" yaml:"epoch" json:"epoch"`
	Digest           string `toml:"digest" yaml:"digest" json:"digest"`
	IdentityKey      string `toml:"identity_key" yaml:"identity_key" json:"identity_key"`

	Serializer     string   `toml:"serializer" yaml:"serializer" json:"serializer"`
	Compression    string   `toml:"compression" yaml:"compression" json:"compression"`
	SchemaFile     string   `toml:"schema_file" yaml:"schema_file" json:"schema_file"`
	TokenizerVocab string   `toml:"tokenizer_vocab" yaml:"tokenizer_vocab" json:"tokenizer_vocab"`
	DateFields     []string `toml:"date_fields" yaml:"date_fields" json:"date_fields"`
	TextFields     []string `toml:"text_fields" yaml:"text_fields" json:"text_fields"`
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// Load reads a configuration file. The format is chosen by the extension:
// .toml, .yaml/.yml or .json. Unknown keys are an error. The configuration
// is validated, all problems are reported at once as common.ErrInvalidConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "config load failed (%s)", path)
	}

	conf, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "config parse failed (%s)", path)
	}
	conf.baseDir = filepath.Dir(path)

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	log.Infof("loaded %s: version %d with %d legacy versions, %s store", path, conf.Current.Tag, len(conf.Legacy), conf.Store.Backend)
	return conf, nil
}

// Parse decodes a configuration in the format given by ext (".toml",
// ".yaml", ".yml" or ".json") and applies the defaults. It does not validate.
func Parse(data []byte, ext string) (*Config, error) {
	conf := &Config{}

	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), conf)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(conf); err != nil {
			return nil, err
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(conf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (expected .toml, .yaml, .yml or .json)", ext)
	}

	conf.applyDefaults()
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	if c.Store.TTLSeconds == 0 {
		c.Store.TTLSeconds = int64((24 * time.Hour).Seconds())
	}
	c.Current.applyDefaults()
	for i := range c.Legacy {
		c.Legacy[i].applyDefaults()
	}
}

func (v *Version) applyDefaults() {
	if v.Digest == "" {
		v.Digest = string(header.DigestBlake3)
	}
	if v.Serializer == "" {
		v.Serializer = "protobuf"
	}
	if v.Compression == "" {
		v.Compression = "zstd"
	}
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// Validate checks the configuration without touching the file system.
// Field paths are checked against the schema when the codecs are built.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Store.Path == "" {
			result = multierror.Append(result, fmt.Errorf("store.path is required for the pebble backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("store.backend must be %s or %s (got %q)", BackendMemory, BackendPebble, c.Store.Backend))
	}
	if c.Store.TTLSeconds < 0 {
		result = multierror.Append(result, fmt.Errorf("store.ttl_seconds must not be negative (got %d)", c.Store.TTLSeconds))
	}

	result = multierror.Append(result, c.Current.validate("current")...)
	tags := map[uint64]string{c.Current.Tag: "current"}
	for i, v := range c.Legacy {
		name := fmt.Sprintf("legacy[%d]", i)
		result = multierror.Append(result, v.validate(name)...)
		if other, ok := tags[v.Tag]; ok {
			result = multierror.Append(result, fmt.Errorf("%s: tag %d is already used by %s", name, v.Tag, other))
		}
		tags[v.Tag] = name
	}

	if err := result.ErrorOrNil(); err != nil {
		return common.WrapError(common.CodeInvalidConfig, err, "invalid configuration")
	}
	return nil
}

func (v Version) validate(name string) []error {
	var errs []error
	prefix := func(err error) error {
		return fmt.Errorf("%s: %w", name, err)
	}

	hc, err := v.HeaderConfig()
	if err != nil {
		errs = append(errs, prefix(err))
	} else if h, err := header.NewCodec(hc); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				errs = append(errs, prefix(e))
			}
		} else {
			errs = append(errs, prefix(err))
		}
	} else if v.MaxFragmentBytes <= h.Len() {
		errs = append(errs, prefix(fmt.Errorf("max_fragment_bytes must exceed the %d byte header (got %d)", h.Len(), v.MaxFragmentBytes)))
	}

	if !contains(serializer.Names(), v.Serializer) {
		errs = append(errs, prefix(fmt.Errorf("unknown serializer %q (available: %s)", v.Serializer, strings.Join(serializer.Names(), ", "))))
	}
	if !contains(compress.Names(), v.Compression) {
		errs = append(errs, prefix(fmt.Errorf("unknown compression %q (available: %s)", v.Compression, strings.Join(compress.Names(), ", "))))
	}
	if v.SchemaFile == "" {
		errs = append(errs, prefix(fmt.Errorf("schema_file is required")))
	}
	return errs
}

// HeaderConfig converts the header part of a version.
func (v Version) HeaderConfig() (header.Config, error) {
	epoch, err := time.Parse(header.DateLayout, v.Epoch)
	if err != nil {
		return header.Config{}, fmt.Errorf("epoch must be a date in the format %s (got %q)", header.DateLayout, v.Epoch)
	}
	digest, err := header.ParseDigestAlgorithm(v.Digest)
	if err != nil {
		return header.Config{}, err
	}
	return header.Config{
		Tag:             v.Tag,
		TagBits:         v.TagBits,
		IdentityBits:    v.IdentityBits,
		TransactionBits: v.TransactionBits,
		CountBits:       v.CountBits,
		Epoch:           epoch,
		Digest:          digest,
		IdentityKey:     []byte(v.IdentityKey),
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// Resolve returns path relative to the directory of the configuration file.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// Versions returns the current version followed by the legacy versions.
func (c *Config) Versions() []Version {
	return append([]Version{c.Current}, c.Legacy...)
}

// TTL returns the lifetime of stored fragments.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Store.TTLSeconds) * time.Second
}

// String returns a formatted summary of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Store")
	addField("Backend", c.Store.Backend)
	if c.Store.Backend == BackendPebble {
		addField("Path", c.Resolve(c.Store.Path))
	}
	addField("TTL", c.TTL().String())
	addField("Test mode", fmt.Sprintf("%t", c.TestMode))

	for i, v := range c.Versions() {
		if i == 0 {
			addSection(fmt.Sprintf("Version %d (current)", v.Tag))
		} else {
			addSection(fmt.Sprintf("Version %d (legacy)", v.Tag))
		}
		addField("Header bits", fmt.Sprintf("tag %d, identity %d, transaction %d, count 2x%d", v.TagBits, v.IdentityBits, v.TransactionBits, v.CountBits))
		addField("Max fragment bytes", fmt.Sprintf("%d", v.MaxFragmentBytes))
		addField("Epoch", v.Epoch)
		addField("Digest", v.Digest)
		addField("Body", fmt.Sprintf("%s + %s", v.Serializer, v.Compression))
		addField("Schema", c.Resolve(v.SchemaFile))
		addField("Date fields", strings.Join(v.DateFields, ", "))
		addField("Text fields", strings.Join(v.TextFields, ", "))
	}
	return sb.String()
}

func contains(names []string, name string) bool {
	name = strings.ToLower(name)
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
