package compress

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testInputs() map[string][]byte {
	random := make([]byte, 4096)
	_, _ = rand.Read(random)

	return map[string][]byte{
		"empty":      {},
		"single":     {0x42},
		"text":       []byte("Please leave the parcel at the back door. Please leave the parcel at the back door."),
		"zeros":      make([]byte, 64<<10),
		"random":     random,
		"structured": bytes.Repeat([]byte{0x08, 0x54, 0x12, 0x03, 'a', 'b', 'c'}, 200),
	}
}

// TestRoundTrip tests every algorithm on a set of inputs
func TestRoundTrip(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			if err != nil {
				t.Fatalf("New(%s) failed: %v", name, err)
			}
			if c.Name() != name {
				t.Errorf("Expected name %s, got %s", name, c.Name())
			}

			for input, data := range testInputs() {
				compressed, err := c.Compress(data)
				if err != nil {
					t.Fatalf("%s: Compress failed: %v", input, err)
				}
				out, err := c.Decompress(compressed)
				if err != nil {
					t.Fatalf("%s: Decompress failed: %v", input, err)
				}
				if !bytes.Equal(out, data) {
					t.Errorf("%s: round trip mismatch (%d vs %d bytes)", input, len(out), len(data))
				}
			}
		})
	}
}

// TestCompresses tests that repetitive input shrinks
func TestCompresses(t *testing.T) {
	data := make([]byte, 64<<10)
	for _, name := range Names() {
		if name == "none" {
			continue
		}
		c, err := New(name)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		compressed, err := c.Compress(data)
		if err != nil {
			t.Fatalf("%s: Compress failed: %v", name, err)
		}
		if len(compressed) >= len(data)/10 {
			t.Errorf("%s: expected strong compression of zeros, got %d bytes", name, len(compressed))
		}
	}
}

// TestCorruptInput tests that garbage is rejected
func TestCorruptInput(t *testing.T) {
	garbage := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F, 0x01, 0x02}
	for _, name := range Names() {
		if name == "none" {
			continue
		}
		c, err := New(name)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		if _, err := c.Decompress(garbage); err == nil {
			t.Errorf("%s: expected error for corrupt input", name)
		}
	}
}

// TestNew tests the registry
func TestNew(t *testing.T) {
	c, err := New("")
	if err != nil || c.Name() != "none" {
		t.Errorf("Expected empty name to select none, got %v / %v", c, err)
	}
	if _, err := New("ZSTD"); err != nil {
		t.Errorf("Expected names to be case insensitive, got %v", err)
	}
	if _, err := New("brotli"); err == nil {
		t.Errorf("Expected error for unknown algorithm")
	}
}
