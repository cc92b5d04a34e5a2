package util

import (
	"strings"
	"testing"
)

// TestWrapString tests wrapping of help texts
func TestWrapString(t *testing.T) {
	text := "path of the configuration file, relative paths in the file are resolved against its directory"
	wrapped := WrapString(text)

	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if strings.Join(strings.Fields(wrapped), " ") != text {
		t.Errorf("Expected the words to be unchanged, got %q", wrapped)
	}
	if WrapString("") != "" {
		t.Errorf("Expected empty string")
	}
}
