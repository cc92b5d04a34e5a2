package transform

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"github.com/ValentinKolb/dFrag/lib/tokenizer"
)

func mustPaths(t *testing.T, list ...string) []schema.Path {
	t.Helper()
	paths, err := schema.ParsePaths(list)
	if err != nil {
		t.Fatalf("ParsePaths failed: %v", err)
	}
	return paths
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		t.Fatalf("invalid date %s: %v", s, err)
	}
	return d
}

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := New(
		mustPaths(t, "due", "items[].shipped"),
		mustPaths(t, "note", "tags"),
		tokenizer.Default(),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tr
}

// TestPackTokens tests the 2 byte big-endian packing
func TestPackTokens(t *testing.T) {
	b := PackTokens([]uint16{1, 0x1234, 0xFFFF})
	if !bytes.Equal(b, []byte{0x00, 0x01, 0x12, 0x34, 0xFF, 0xFF}) {
		t.Errorf("Unexpected packing %x", b)
	}

	ids, err := UnpackTokens(b)
	if err != nil {
		t.Fatalf("UnpackTokens failed: %v", err)
	}
	if len(ids) != 3 || ids[1] != 0x1234 {
		t.Errorf("Unexpected ids %v", ids)
	}

	if _, err := UnpackTokens([]byte{1, 2, 3}); err == nil {
		t.Errorf("Expected error for odd length")
	}
}

// TestForwardBackward tests that the transforms are reversible
func TestForwardBackward(t *testing.T) {
	tr := newTestTransformer(t)
	ref := mustDate(t, "2024-03-01")

	msg := message.Object{
		"id":   message.Int(7),
		"due":  message.String("2024-03-10"),
		"note": message.String("Please leave the order at the door"),
		"tags": message.List{message.String("fragile"), message.String("gift")},
		"items": message.List{
			message.Object{"sku": message.String("a"), "shipped": message.String("2024-02-27")},
			message.Object{"sku": message.String("b")},
		},
	}
	orig := message.Clone(msg)

	fwd, err := tr.Forward(msg, ref)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !message.Equal(msg, orig) {
		t.Errorf("Forward modified its input")
	}

	obj := fwd.(message.Object)
	if !message.Equal(obj["due"], message.Int(9)) {
		t.Errorf("Expected due offset 9, got %v", obj["due"])
	}
	// 2024 is a leap year: 27.02 -> 01.03 is 3 days
	shipped := obj["items"].(message.List)[0].(message.Object)["shipped"]
	if !message.Equal(shipped, message.Int(-3)) {
		t.Errorf("Expected shipped offset -3, got %v", shipped)
	}
	if _, ok := obj["note"].(message.Scalar).Value.([]byte); !ok {
		t.Errorf("Expected note to be packed tokens, got %T", obj["note"].(message.Scalar).Value)
	}
	if _, ok := obj["tags"].(message.List)[1].(message.Scalar).Value.([]byte); !ok {
		t.Errorf("Expected tags to be packed tokens")
	}
	if !message.Equal(obj["id"], message.Int(7)) {
		t.Errorf("Untouched field changed")
	}

	back, err := tr.Backward(fwd, ref)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !message.Equal(back, orig) {
		t.Errorf("Expected %v, got %v", orig, back)
	}
}

// TestForwardErrors tests values that cannot be transformed
func TestForwardErrors(t *testing.T) {
	tr := newTestTransformer(t)
	ref := mustDate(t, "2024-03-01")

	cases := map[string]message.Object{
		"invalid date": {"due": message.String("03/10/2024")},
		"date not str": {"due": message.Int(1)},
		"text not str": {"note": message.Bool(true)},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tr.Forward(msg, ref); err == nil {
				t.Errorf("Expected error")
			}
		})
	}

	if _, err := tr.Backward(message.Object{"note": message.Bytes([]byte{1})}, ref); err == nil {
		t.Errorf("Expected error for odd token bytes")
	}
}

// TestNew tests that text fields need a tokenizer
func TestNew(t *testing.T) {
	if _, err := New(nil, mustPaths(t, "note"), nil); err == nil {
		t.Errorf("Expected error without tokenizer")
	}
	if _, err := New(mustPaths(t, "due"), nil, nil); err != nil {
		t.Errorf("Expected date-only transformer without tokenizer, got %v", err)
	}
}
