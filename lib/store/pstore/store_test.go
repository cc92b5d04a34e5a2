package pstore

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dFrag/lib/store"
	storetesting "github.com/ValentinKolb/dFrag/lib/store/testing"
)

func newTestStore(t testing.TB, path string, opts store.Options) store.IFragmentStore {
	t.Helper()
	s, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func Test(t *testing.T) {
	storetesting.RunFragmentStoreTests(t, "PebbleStore(mem)", func(opts store.Options) store.IFragmentStore {
		return newTestStore(t, "", opts)
	})

	storetesting.RunFragmentStoreTests(t, "PebbleStore(disk)", func(opts store.Options) store.IFragmentStore {
		return newTestStore(t, t.TempDir(), opts)
	})
}

func Benchmark(b *testing.B) {
	storetesting.RunFragmentStoreBenchmarks(b, "PebbleStore", func(opts store.Options) store.IFragmentStore {
		return newTestStore(b, b.TempDir(), opts)
	})
}

// TestReopen tests that incomplete messages survive a restart
func TestReopen(t *testing.T) {
	dir := t.TempDir()
	clock := storetesting.NewClock()
	opts := store.Options{TTL: time.Hour, Now: clock.Now}

	s := newTestStore(t, dir, opts)
	if _, err := s.Submit("alice", "tx", 3, 0, []byte("a")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := s.Submit("alice", "tx", 3, 2, []byte("c")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = newTestStore(t, dir, opts)

	out, err := s.Submit("alice", "tx", 3, 2, []byte("c"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out.Status != store.StatusDuplicated {
		t.Errorf("Expected stored fragment to be a duplicate after reopen, got %s", out.Status)
	}

	out, err = s.Submit("alice", "tx", 3, 1, []byte("b"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out.Status != store.StatusFinished || string(out.Payload) != "abc" {
		t.Errorf("Expected finished message abc, got %s %q", out.Status, out.Payload)
	}

	// deadlines survive as well
	if _, err := s.Submit("bob", "tx", 2, 0, []byte("x")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	s = newTestStore(t, dir, opts)
	defer s.Close()
	n, err := s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired row after reopen, got %d", n)
	}
}

// TestKeys tests the encoding of the key space
func TestKeys(t *testing.T) {
	key := store.Key{Identity: "alice", Transaction: "v3/2024-01-05"}
	rk := rowKey(key, 300, 7)

	parsed, total, index, err := parseRowKey(rk)
	if err != nil {
		t.Fatalf("parseRowKey failed: %v", err)
	}
	if parsed != key || total != 300 || index != 7 {
		t.Errorf("Expected %v 7/300, got %v %d/%d", key, parsed, index, total)
	}

	if !bytes.HasPrefix(rk, keyPrefix(key)) {
		t.Errorf("Row key must start with the key prefix")
	}

	// prefixes of different keys never overlap
	other := keyPrefix(store.Key{Identity: "alic", Transaction: "ev3/2024-01-05"})
	if bytes.HasPrefix(rk, other) {
		t.Errorf("Row key of %v matches the prefix of another key", key)
	}

	// rows are ordered by total, then index
	if bytes.Compare(rowKey(key, 2, 1), rowKey(key, 10, 0)) >= 0 {
		t.Errorf("Expected rows to be ordered by total")
	}
	if bytes.Compare(rowKey(key, 10, 2), rowKey(key, 10, 9)) >= 0 {
		t.Errorf("Expected rows to be ordered by index")
	}

	if _, _, _, err := parseRowKey(rk[:len(rk)-1]); err == nil {
		t.Errorf("Expected error for truncated row key")
	}

	now := time.Unix(1000, 0)
	if bytes.Compare(expiryKey(now, rk), expiryBound(now)) >= 0 {
		t.Errorf("Expiry key at the deadline must be below the bound")
	}
	if bytes.Compare(expiryKey(now.Add(time.Nanosecond), rk), expiryBound(now)) < 0 {
		t.Errorf("Expiry key after the deadline must not be below the bound")
	}

	if end := prefixEnd([]byte{'a', 0xFF}); !bytes.Equal(end, []byte{'b'}) {
		t.Errorf("Expected prefix end b, got %q", end)
	}
}
