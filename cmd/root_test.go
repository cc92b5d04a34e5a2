package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `
[store]
backend = "pebble"
path = "fragments"

[current]
tag = 1
tag_bits = 4
identity_bits = 32
transaction_bits = 16
count_bits = 4
max_fragment_bytes = 20
epoch = "2020-01-01"
identity_key = "secret"
schema_file = "schema.json"
date_fields = ["when"]
text_fields = ["name"]
`

const testSchema = `{
  "type": "record",
  "name": "Payment",
  "fields": [
    {"name": "name", "type": "string"},
    {"name": "when", "type": "string"},
    {"name": "amount", "type": "int"}
  ]
}`

const testMessage = `{"name": "hello world", "when": "2024-01-05", "amount": 7}`

func execute(t *testing.T, args ...string) error {
	t.Helper()
	RootCmd.SetArgs(args)
	return RootCmd.Execute()
}

// writeTestFiles writes the configuration, schema and message to a new
// directory and returns it
func writeTestFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"dfrag.toml":  testConfig,
		"schema.json": testSchema,
		"msg.json":    testMessage,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return dir
}

// captureOutput redirects the command output for the rest of the test
func captureOutput(t *testing.T, in string) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = new(bytes.Buffer), new(bytes.Buffer)
	RootCmd.SetIn(strings.NewReader(in))
	RootCmd.SetOut(stdout)
	RootCmd.SetErr(stderr)
	t.Cleanup(func() {
		RootCmd.SetIn(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})
	return stdout, stderr
}

// TestCommands tests encoding, decoding and sweeping through the CLI
func TestCommands(t *testing.T) {
	dir := writeTestFiles(t)
	conf := filepath.Join(dir, "dfrag.toml")
	out := filepath.Join(dir, "out")

	if err := execute(t, "encode", "--config", conf, "--identity", "alice", "--date", "2024-01-05",
		"--in", filepath.Join(dir, "msg.json"), "--out", out); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(out, "frag-*.bin"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("Expected at least 2 fragment files, got %d", len(files))
	}

	if err := execute(t, append([]string{"decode", "--config", conf, "--identity", "alice"}, files...)...); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := execute(t, "decode", "--config", conf, "--identity", "mallory", files[0]); err == nil {
		t.Errorf("Expected decode with the wrong identity to fail")
	}

	if err := execute(t, "sweep", "--config", conf); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fragments")); err != nil {
		t.Errorf("Expected the pebble store next to the config file: %v", err)
	}

	if err := execute(t, "encode", "--config", conf, "--date", "yesterday", "--in", filepath.Join(dir, "msg.json")); err == nil {
		t.Errorf("Expected invalid date to fail")
	}
}

// TestDecodeSkipsBadFragments tests that invalid fragments are reported
// while the valid ones still complete their message
func TestDecodeSkipsBadFragments(t *testing.T) {
	dir := writeTestFiles(t)
	conf := filepath.Join(dir, "dfrag.toml")
	out := filepath.Join(dir, "out")

	if err := execute(t, "encode", "--config", conf, "--identity", "alice", "--date", "2024-01-05",
		"--in", filepath.Join(dir, "msg.json"), "--out", out); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	files, err := filepath.Glob(filepath.Join(out, "frag-*.bin"))
	if err != nil || len(files) < 2 {
		t.Fatalf("Expected at least 2 fragment files, got %d (%v)", len(files), err)
	}

	junk := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(junk, []byte{0xff, 0x01, 0x02}, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// junk first, between and after the valid fragments
	args := []string{"decode", "--config", conf, "--identity", "alice", junk, files[0], junk}
	args = append(args, files[1:]...)
	args = append(args, junk)

	stdout, stderr := captureOutput(t, "")
	err = execute(t, args...)
	if err == nil || !strings.Contains(err.Error(), "3 of") {
		t.Errorf("Expected a summary of 3 failed fragments, got %v", err)
	}
	if !strings.Contains(stdout.String(), "hello world") {
		t.Errorf("Expected the decoded message on stdout, got %q", stdout.String())
	}
	if strings.Count(stderr.String(), "junk.bin:") < 3 {
		t.Errorf("Expected every invalid fragment to be reported, got %q", stderr.String())
	}
}

// TestDecodeHexLines tests decoding hex lines from stdin with an invalid line
func TestDecodeHexLines(t *testing.T) {
	dir := writeTestFiles(t)
	conf := filepath.Join(dir, "dfrag.toml")

	encoded, _ := captureOutput(t, "")
	if err := execute(t, "encode", "--config", conf, "--identity", "bob", "--date", "2024-01-05",
		"--in", filepath.Join(dir, "msg.json"), "--out="); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	lines := strings.Fields(encoded.String())
	if len(lines) < 2 {
		t.Fatalf("Expected at least 2 hex lines, got %q", encoded.String())
	}

	input := "not-hex\n" + strings.Join(lines, "\n") + "\n"
	stdout, stderr := captureOutput(t, input)
	err := execute(t, "decode", "--config", conf, "--identity", "bob")
	if err == nil || !strings.Contains(err.Error(), "1 of") {
		t.Errorf("Expected a summary of 1 failed fragment, got %v", err)
	}
	if !strings.Contains(stdout.String(), "hello world") {
		t.Errorf("Expected the decoded message on stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "line 1") {
		t.Errorf("Expected the invalid line to be reported, got %q", stderr.String())
	}
}

// TestVersion tests the version command
func TestVersion(t *testing.T) {
	if err := execute(t, "version"); err != nil {
		t.Fatalf("version failed: %v", err)
	}

	// flags keep their values between executions
	if err := execute(t, "version", "--log-format", "xml"); err == nil {
		t.Errorf("Expected unknown log format to fail")
	}
	if err := execute(t, "version", "--log-format", "json", "--log-level", "debug"); err != nil {
		t.Errorf("version with json logs failed: %v", err)
	}
	if err := execute(t, "version", "--log-format", "text", "--log-level", "warn"); err != nil {
		t.Errorf("version failed: %v", err)
	}
}
