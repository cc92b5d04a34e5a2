package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/hashicorp/go-multierror"
)

const testSchema = `{
  "type": "record",
  "name": "Payment",
  "fields": [
    {"name": "name", "type": "string"},
    {"name": "when", "type": "string"},
    {"name": "amount", "type": "int"}
  ]
}`

const testTOML = `
test_mode = false

[store]
backend = "pebble"
path = "fragments"
ttl_seconds = 3600

[current]
tag = 3
tag_bits = 8
identity_bits = 32
transaction_bits = 16
count_bits = 4
max_fragment_bytes = 24
epoch = "2020-01-01"
identity_key = "secret"
compression = "none"
schema_file = "schema.json"
date_fields = ["when"]
text_fields = ["name"]

[[legacy]]
tag = 2
tag_bits = 8
identity_bits = 16
transaction_bits = 16
count_bits = 8
max_fragment_bytes = 64
epoch = "2019-01-01"
digest = "sha3"
identity_key = "old-secret"
serializer = "binary"
compression = "lz4"
schema_file = "schema.json"
date_fields = ["when"]
text_fields = ["name"]
`

const testYAML = `
store:
  backend: memory
current:
  tag: 3
  tag_bits: 8
  identity_bits: 32
  transaction_bits: 16
  count_bits: 4
  max_fragment_bytes: 40
  epoch: "2020-01-01"
  identity_key: secret
  schema_file: schema.json
  date_fields: [when]
  text_fields: [name]
`

const testJSON = `{
  "test_mode": true,
  "current": {
    "tag": 3, "tag_bits": 8, "identity_bits": 32, "transaction_bits": 16, "count_bits": 4,
    "max_fragment_bytes": 40, "epoch": "2020-01-01", "identity_key": "secret",
    "serializer": "json", "compression": "snappy",
    "schema_file": "schema.json", "date_fields": ["when"], "text_fields": ["name"]
  }
}`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return dir
}

func testMessage() message.Object {
	return message.Object{
		"name":   message.String("hello world"),
		"when":   message.String("2024-01-05"),
		"amount": message.Int(7),
	}
}

// TestLoadFormats tests loading and using the configuration in all formats
func TestLoadFormats(t *testing.T) {
	cases := map[string]string{
		"dfrag.toml": testTOML,
		"dfrag.yaml": testYAML,
		"dfrag.json": testJSON,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := writeFiles(t, map[string]string{name: content, "schema.json": testSchema})

			conf, err := Load(filepath.Join(dir, name))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if conf.Current.Tag != 3 || conf.Current.Digest != "blake3" {
				t.Errorf("Unexpected current version %+v", conf.Current)
			}

			s, err := conf.OpenStore()
			if err != nil {
				t.Fatalf("OpenStore failed: %v", err)
			}
			defer s.Close()

			d, err := conf.NewDecoder(s)
			if err != nil {
				t.Fatalf("NewDecoder failed: %v", err)
			}

			day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			fragments, err := d.Encode("alice", day, testMessage())
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			for i := len(fragments) - 1; i >= 0; i-- {
				out, err := d.Decode(fragments[i], "alice")
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if i > 0 {
					continue
				}
				if out.Status != store.StatusFinished || !message.Equal(out.Message, testMessage()) {
					t.Errorf("Expected finished message %v, got %s %v", testMessage(), out.Status, out.Message)
				}
			}
		})
	}
}

// TestDefaultsAndPaths tests defaults and the resolution of relative paths
func TestDefaultsAndPaths(t *testing.T) {
	dir := writeFiles(t, map[string]string{"dfrag.toml": testTOML, "schema.json": testSchema})
	conf, err := Load(filepath.Join(dir, "dfrag.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if conf.Current.Serializer != "protobuf" {
		t.Errorf("Expected protobuf as default serializer, got %q", conf.Current.Serializer)
	}
	if conf.TTL() != time.Hour {
		t.Errorf("Expected ttl of 1h, got %s", conf.TTL())
	}
	if got := conf.Resolve("fragments"); got != filepath.Join(dir, "fragments") {
		t.Errorf("Expected path relative to the config file, got %q", got)
	}
	if got := conf.Resolve("/abs/schema.json"); got != "/abs/schema.json" {
		t.Errorf("Expected absolute path to stay, got %q", got)
	}
	if len(conf.Versions()) != 2 || conf.Versions()[1].Tag != 2 {
		t.Errorf("Expected current and one legacy version")
	}
	if !strings.Contains(conf.String(), "Version 2 (legacy)") {
		t.Errorf("Expected summary to list the legacy version:\n%s", conf)
	}

	yamlConf, err := Parse([]byte(testYAML), ".yml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if yamlConf.Store.Backend != BackendMemory || yamlConf.Current.Compression != "zstd" {
		t.Errorf("Unexpected defaults %+v", yamlConf)
	}
}

// TestValidation tests that all problems are reported at once
func TestValidation(t *testing.T) {
	content := `
[store]
backend = "pebble"
ttl_seconds = -1

[current]
tag = 300
tag_bits = 8
identity_bits = 12
transaction_bits = 16
count_bits = 6
max_fragment_bytes = 10
epoch = "01.01.2020"
compression = "brotli"

[[legacy]]
tag = 3
tag_bits = 8
identity_bits = 32
transaction_bits = 16
count_bits = 4
max_fragment_bytes = 8
epoch = "2020-01-01"
schema_file = "schema.json"
`
	dir := writeFiles(t, map[string]string{"bad.toml": content})

	_, err := Load(filepath.Join(dir, "bad.toml"))
	if !errors.Is(err, common.ErrInvalidConfig) {
		t.Fatalf("Expected InvalidConfig, got %v", err)
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected aggregated errors, got %T", errors.Unwrap(err))
	}
	// store.path, ttl, epoch, compression, schema_file, legacy max_fragment_bytes
	if len(merr.Errors) < 6 {
		t.Errorf("Expected at least 6 problems, got %d:\n%v", len(merr.Errors), err)
	}
	for _, want := range []string{"store.path", "ttl_seconds", "current: epoch", "brotli", "current: schema_file", "legacy[0]: max_fragment_bytes"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q:\n%v", want, err)
		}
	}
}

// TestDuplicateTags tests that versions need distinct tags
func TestDuplicateTags(t *testing.T) {
	content := strings.Replace(testTOML, "tag = 2\n", "tag = 3\n", 1)
	conf, err := Parse([]byte(content), ".toml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := conf.Validate(); err == nil || !strings.Contains(err.Error(), "already used") {
		t.Errorf("Expected duplicate tag error, got %v", err)
	}
}

// TestParseErrors tests unsupported formats and unknown keys
func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte(testTOML), ".ini"); err == nil {
		t.Errorf("Expected error for unsupported format")
	}
	if _, err := Parse([]byte(testTOML+"\nunknown_key = 1\n"), ".toml"); err == nil {
		t.Errorf("Expected error for unknown toml key")
	}
	if _, err := Parse([]byte(testYAML+"color: red\n"), ".yaml"); err == nil {
		t.Errorf("Expected error for unknown yaml key")
	}
	if _, err := Parse([]byte(`{"colour": "red"}`), ".json"); err == nil {
		t.Errorf("Expected error for unknown json key")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Expected InvalidConfig for a missing file, got %v", err)
	}
}

// TestSchemaFieldNotFound tests that unknown field paths fail before any message is processed
func TestSchemaFieldNotFound(t *testing.T) {
	content := strings.Replace(testYAML, "text_fields: [name]", "text_fields: [name, note]", 1)
	dir := writeFiles(t, map[string]string{"dfrag.yaml": content, "schema.json": testSchema})

	conf, err := Load(filepath.Join(dir, "dfrag.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s, err := conf.OpenStore()
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer s.Close()

	if _, err := conf.NewDecoder(s); !errors.Is(err, common.ErrSchemaFieldNotFound) {
		t.Errorf("Expected SchemaFieldNotFound, got %v", err)
	}
}
