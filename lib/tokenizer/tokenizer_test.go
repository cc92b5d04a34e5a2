package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

// TestRoundTrip tests that decoding returns the encoded text
func TestRoundTrip(t *testing.T) {
	tokenizers := map[string]*Vocab{
		"default": Default(),
		"bytes":   Bytes(),
	}
	texts := []string{
		"",
		"Hello world",
		"Please deliver the order to the back door.",
		"Grüße aus München, 東京 und 🚀",
		"tabs\tand\nnewlines",
	}

	for name, tok := range tokenizers {
		t.Run(name, func(t *testing.T) {
			for _, text := range texts {
				ids := tok.Encode(text)
				got, err := tok.Decode(ids)
				if err != nil {
					t.Fatalf("Decode(%q) failed: %v", text, err)
				}
				if got != text {
					t.Errorf("Expected %q, got %q", text, got)
				}
			}
		})
	}
}

// TestLongestMatch tests the greedy piece selection
func TestLongestMatch(t *testing.T) {
	v, err := NewVocab([]string{"a", "ab", "abc", "c", "ab"})
	if err != nil {
		t.Fatalf("NewVocab failed: %v", err)
	}
	if v.Size() != 4 {
		t.Errorf("Expected duplicates to be ignored, got size %d", v.Size())
	}

	ids := v.Encode("abcabx")
	want := []uint16{ByteTokens + 2, ByteTokens + 1, 'x'}
	if len(ids) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Token %d: expected %d, got %d", i, want[i], ids[i])
		}
	}
}

// TestCompression tests that the default vocabulary uses fewer tokens than bytes
func TestCompression(t *testing.T) {
	text := "Please leave the order at the door and thank you for the delivery."
	if n := len(Default().Encode(text)); n >= len(text) {
		t.Errorf("Expected fewer than %d tokens, got %d", len(text), n)
	}
}

// TestNormalisation tests that decomposed input is returned composed
func TestNormalisation(t *testing.T) {
	decomposed := "Cafe\u0301"
	got, err := Default().Decode(Default().Encode(decomposed))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != "Caf\u00e9" {
		t.Errorf("Expected NFC form, got %q", got)
	}
}

// TestUnknownToken tests decoding of ids outside the vocabulary
func TestUnknownToken(t *testing.T) {
	if _, err := Bytes().Decode([]uint16{ByteTokens}); err == nil {
		t.Errorf("Expected error for unknown token id")
	}
}

// TestLoadVocabFile tests reading a vocabulary file
func TestLoadVocabFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "hello\n\" world\"\n\nfoo\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	v, err := LoadVocabFile(path)
	if err != nil {
		t.Fatalf("LoadVocabFile failed: %v", err)
	}
	if v.Size() != 3 {
		t.Errorf("Expected 3 pieces, got %d", v.Size())
	}
	if ids := v.Encode("hello world"); len(ids) != 2 {
		t.Errorf("Expected 2 tokens, got %v", ids)
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(bad, []byte("\"unterminated\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadVocabFile(bad); err == nil {
		t.Errorf("Expected error for invalid quoted line")
	}
}
