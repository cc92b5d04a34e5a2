package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dFrag/lib/store"
)

// StoreFactory is a function that creates a new instance of a fragment store
type StoreFactory func(opts store.Options) store.IFragmentStore

// RunFragmentStoreTests runs a comprehensive test suite for a fragment store implementation.
func RunFragmentStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("MissingList", func(t *testing.T) {
			testMissingList(t, factory)
		})

		t.Run("Duplicates", func(t *testing.T) {
			testDuplicates(t, factory)
		})

		t.Run("SingleFragment", func(t *testing.T) {
			testSingleFragment(t, factory)
		})

		t.Run("OrderIndependence", func(t *testing.T) {
			testOrderIndependence(t, factory)
		})

		t.Run("ReplayAfterFinish", func(t *testing.T) {
			testReplayAfterFinish(t, factory)
		})

		t.Run("MixedTotals", func(t *testing.T) {
			testMixedTotals(t, factory)
		})

		t.Run("KeyIsolation", func(t *testing.T) {
			testKeyIsolation(t, factory)
		})

		t.Run("InvalidPosition", func(t *testing.T) {
			testInvalidPosition(t, factory)
		})

		t.Run("PayloadCopies", func(t *testing.T) {
			testPayloadCopies(t, factory)
		})

		t.Run("LazyExpiry", func(t *testing.T) {
			testLazyExpiry(t, factory)
		})

		t.Run("ExpiredIsNotDuplicate", func(t *testing.T) {
			testExpiredIsNotDuplicate(t, factory)
		})

		t.Run("SweepExpired", func(t *testing.T) {
			testSweepExpired(t, factory)
		})

		t.Run("InfoAndClear", func(t *testing.T) {
			testInfoAndClear(t, factory)
		})

		t.Run("ConcurrentSubmit", func(t *testing.T) {
			testConcurrentSubmit(t, factory)
		})

		t.Run("ConcurrentDuplicates", func(t *testing.T) {
			testConcurrentDuplicates(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Clock is a manually advanced clock for expiry tests
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at a fixed date
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current time of the clock
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func payloadOf(key string, total, index int) []byte {
	return []byte(fmt.Sprintf("<%s %d/%d>", key, index, total))
}

func messageOf(key string, total int) []byte {
	var buf bytes.Buffer
	for i := 0; i < total; i++ {
		buf.Write(payloadOf(key, total, i))
	}
	return buf.Bytes()
}

func submit(t testing.TB, s store.IFragmentStore, id, tx string, total, index int) store.Outcome {
	t.Helper()
	out, err := s.Submit(id, tx, total, index, payloadOf(id+tx, total, index))
	if err != nil {
		t.Fatalf("Submit(%s, %s, %d, %d) failed: %v", id, tx, total, index, err)
	}
	return out
}

func expectStatus(t testing.TB, out store.Outcome, status store.Status) {
	t.Helper()
	if out.Status != status {
		t.Errorf("Expected status %s, got %s", status, out.Status)
	}
}

func expectMissing(t testing.TB, out store.Outcome, missing ...int) {
	t.Helper()
	if len(out.Missing) != len(missing) {
		t.Errorf("Expected missing %v, got %v", missing, out.Missing)
		return
	}
	for i := range missing {
		if out.Missing[i] != missing[i] {
			t.Errorf("Expected missing %v, got %v", missing, out.Missing)
			return
		}
	}
}

func expectRows(t testing.TB, s store.IFragmentStore, rows int) {
	t.Helper()
	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Rows != rows {
		t.Errorf("Expected %d rows, got %d", rows, info.Rows)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testMissingList(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	expectMissing(t, submit(t, s, "alice", "tx", 5, 0), 1, 2, 3, 4)
	expectMissing(t, submit(t, s, "alice", "tx", 5, 1), 2, 3, 4)

	out := submit(t, s, "alice", "tx", 5, 3)
	expectStatus(t, out, store.StatusWaiting)
	expectMissing(t, out, 2, 4)
	if out.Total != 5 || out.Index != 3 {
		t.Errorf("Expected position 3 of 5, got %d of %d", out.Index, out.Total)
	}
	expectRows(t, s, 3)

	expectMissing(t, submit(t, s, "alice", "tx", 5, 4), 2)

	out = submit(t, s, "alice", "tx", 5, 2)
	expectStatus(t, out, store.StatusFinished)
	if len(out.Missing) != 0 {
		t.Errorf("Expected no missing fragments, got %v", out.Missing)
	}
	if !bytes.Equal(out.Payload, messageOf("alicetx", 5)) {
		t.Errorf("Expected merged payload %q, got %q", messageOf("alicetx", 5), out.Payload)
	}
	expectRows(t, s, 0)
}

func testDuplicates(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	expectStatus(t, submit(t, s, "bob", "tx", 3, 0), store.StatusWaiting)

	// a duplicate with another payload must not replace the stored one
	out, err := s.Submit("bob", "tx", 3, 0, []byte("other"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	expectStatus(t, out, store.StatusDuplicated)
	expectMissing(t, out, 1, 2)
	expectRows(t, s, 1)

	expectStatus(t, submit(t, s, "bob", "tx", 3, 2), store.StatusWaiting)
	out = submit(t, s, "bob", "tx", 3, 2)
	expectStatus(t, out, store.StatusDuplicated)
	expectMissing(t, out, 1)

	out = submit(t, s, "bob", "tx", 3, 1)
	expectStatus(t, out, store.StatusFinished)
	if !bytes.Equal(out.Payload, messageOf("bobtx", 3)) {
		t.Errorf("Expected merged payload %q, got %q", messageOf("bobtx", 3), out.Payload)
	}
}

func testSingleFragment(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	for i := 0; i < 2; i++ {
		out, err := s.Submit("carol", "tx", 1, 0, []byte("whole message"))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		// never stored, so never a duplicate
		expectStatus(t, out, store.StatusFinished)
		if string(out.Payload) != "whole message" {
			t.Errorf("Expected payload to be returned, got %q", out.Payload)
		}
	}
	expectRows(t, s, 0)

	pending, err := s.Pending("carol", "tx")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending fragments, got %d", len(pending))
	}
}

func testOrderIndependence(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	const total = 7
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		tx := fmt.Sprintf("tx-%d", round)
		order := rng.Perm(total)

		finished := 0
		for i, idx := range order {
			out := submit(t, s, "dave", tx, total, idx)
			if out.Status == store.StatusFinished {
				finished++
				if i != total-1 {
					t.Errorf("Round %d: finished after %d of %d fragments", round, i+1, total)
				}
				if !bytes.Equal(out.Payload, messageOf("dave"+tx, total)) {
					t.Errorf("Round %d: wrong merged payload %q", round, out.Payload)
				}
			} else if len(out.Missing) != total-i-1 {
				t.Errorf("Round %d: expected %d missing, got %v", round, total-i-1, out.Missing)
			}
		}
		if finished != 1 {
			t.Errorf("Round %d: expected exactly one finished outcome, got %d", round, finished)
		}
	}
	expectRows(t, s, 0)
}

func testReplayAfterFinish(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	submit(t, s, "erin", "tx", 2, 0)
	expectStatus(t, submit(t, s, "erin", "tx", 2, 1), store.StatusFinished)

	// the key is gone, a replay starts a fresh reassembly
	out := submit(t, s, "erin", "tx", 2, 1)
	expectStatus(t, out, store.StatusWaiting)
	expectMissing(t, out, 0)

	expectStatus(t, submit(t, s, "erin", "tx", 2, 0), store.StatusFinished)
}

func testMixedTotals(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	expectStatus(t, submit(t, s, "frank", "tx", 3, 0), store.StatusWaiting)

	// same key, another encoding of the message
	out := submit(t, s, "frank", "tx", 2, 0)
	expectStatus(t, out, store.StatusWaiting)
	expectMissing(t, out, 1)
	expectRows(t, s, 2)

	pending, err := s.Pending("frank", "tx")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].Total != 2 || pending[1].Total != 3 {
		t.Errorf("Expected pending fragments ordered by total, got %+v", pending)
	}

	out = submit(t, s, "frank", "tx", 2, 1)
	expectStatus(t, out, store.StatusFinished)
	if !bytes.Equal(out.Payload, messageOf("franktx", 2)) {
		t.Errorf("Expected only fragments of total 2 to be merged, got %q", out.Payload)
	}
	// completion removes every row of the key
	expectRows(t, s, 0)
}

func testKeyIsolation(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	submit(t, s, "gina", "tx-1", 2, 0)
	submit(t, s, "hank", "tx-1", 2, 0)
	submit(t, s, "gina", "tx-2", 2, 0)

	out := submit(t, s, "hank", "tx-1", 2, 1)
	expectStatus(t, out, store.StatusFinished)
	if !bytes.Equal(out.Payload, messageOf("hanktx-1", 2)) {
		t.Errorf("Expected payload of hank, got %q", out.Payload)
	}

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Rows != 2 || info.Keys != 2 {
		t.Errorf("Expected 2 rows in 2 keys, got %+v", info)
	}
}

func testInvalidPosition(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	cases := []struct{ total, index int }{
		{0, 0},
		{-1, 0},
		{3, 3},
		{3, -1},
	}
	for _, c := range cases {
		if _, err := s.Submit("ivan", "tx", c.total, c.index, nil); err == nil {
			t.Errorf("Expected error for position %d of %d", c.index, c.total)
		}
	}
	expectRows(t, s, 0)
}

func testPayloadCopies(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	p := []byte("first")
	if _, err := s.Submit("judy", "tx", 2, 0, p); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	p[0] = 'X'

	pending, err := s.Pending("judy", "tx")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || string(pending[0].Payload) != "first" {
		t.Fatalf("Expected stored payload to be a copy, got %+v", pending)
	}
	pending[0].Payload[0] = 'Y'

	out, err := s.Submit("judy", "tx", 2, 1, []byte("+second"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if string(out.Payload) != "first+second" {
		t.Errorf("Expected %q, got %q", "first+second", out.Payload)
	}
}

func testLazyExpiry(t *testing.T, factory StoreFactory) {
	clock := NewClock()
	s := factory(store.Options{TTL: time.Minute, Now: clock.Now})
	defer s.Close()

	submit(t, s, "kate", "tx", 2, 0)
	clock.Advance(30 * time.Second)
	submit(t, s, "leo", "tx", 2, 0)

	// nothing is removed without an insert
	clock.Advance(45 * time.Second)
	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Rows != 2 {
		t.Errorf("Expected expired rows to stay until the next insert, got %d rows", info.Rows)
	}

	// the next insert sweeps the expired row of kate, even though it belongs to another key
	submit(t, s, "mia", "tx", 2, 0)
	expectRows(t, s, 2)

	pending, err := s.Pending("kate", "tx")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected kate's fragments to be swept, got %d", len(pending))
	}

	// leo expires exactly at its deadline
	clock.Advance(15 * time.Second)
	submit(t, s, "mia", "tx-2", 2, 0)
	expectRows(t, s, 2)
	if pending, _ := s.Pending("leo", "tx"); len(pending) != 0 {
		t.Errorf("Expected leo's fragments to be swept at the deadline")
	}
}

func testExpiredIsNotDuplicate(t *testing.T, factory StoreFactory) {
	clock := NewClock()
	s := factory(store.Options{TTL: time.Minute, Now: clock.Now})
	defer s.Close()

	submit(t, s, "nick", "tx", 2, 0)
	clock.Advance(2 * time.Minute)

	out := submit(t, s, "nick", "tx", 2, 0)
	expectStatus(t, out, store.StatusWaiting)
	expectMissing(t, out, 1)

	out = submit(t, s, "nick", "tx", 2, 1)
	expectStatus(t, out, store.StatusFinished)
	if !bytes.Equal(out.Payload, messageOf("nicktx", 2)) {
		t.Errorf("Expected merged payload, got %q", out.Payload)
	}
	expectRows(t, s, 0)
}

func testSweepExpired(t *testing.T, factory StoreFactory) {
	clock := NewClock()
	s := factory(store.Options{TTL: time.Hour, Now: clock.Now})
	defer s.Close()

	for i := 0; i < 5; i++ {
		submit(t, s, "olga", fmt.Sprintf("tx-%d", i), 3, 0)
		submit(t, s, "olga", fmt.Sprintf("tx-%d", i), 3, 2)
	}
	clock.Advance(30 * time.Minute)
	submit(t, s, "paul", "tx", 3, 1)

	n, err := s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing to expire yet, swept %d", n)
	}

	clock.Advance(time.Hour)
	n, err = s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 11 {
		t.Errorf("Expected 11 swept rows, got %d", n)
	}
	expectRows(t, s, 0)

	n, err = s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected second sweep to remove nothing, got %d", n)
	}
}

func testInfoAndClear(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	for i := 0; i < 4; i++ {
		submit(t, s, "quinn", fmt.Sprintf("tx-%d", i), 4, 0)
		submit(t, s, "quinn", fmt.Sprintf("tx-%d", i), 4, 1)
	}

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Backend == "" {
		t.Errorf("Expected backend name")
	}
	if info.Rows != 8 || info.Keys != 4 {
		t.Errorf("Expected 8 rows in 4 keys, got %+v", info)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	expectRows(t, s, 0)

	// usable after clear
	out := submit(t, s, "quinn", "tx-0", 4, 0)
	expectStatus(t, out, store.StatusWaiting)
	expectMissing(t, out, 1, 2, 3)
}

func testConcurrentSubmit(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	const (
		keys  = 10
		total = 8
	)

	var finished atomic.Int32
	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		tx := fmt.Sprintf("tx-%d", k)
		for i := 0; i < total; i++ {
			wg.Add(1)
			go func(tx string, index int) {
				defer wg.Done()
				out, err := s.Submit("rita", tx, total, index, payloadOf("rita"+tx, total, index))
				if err != nil {
					t.Errorf("Submit failed: %v", err)
					return
				}
				if out.Status == store.StatusFinished {
					finished.Add(1)
					if !bytes.Equal(out.Payload, messageOf("rita"+tx, total)) {
						t.Errorf("Wrong merged payload for %s: %q", tx, out.Payload)
					}
				}
			}(tx, i)
		}
	}
	wg.Wait()

	if n := finished.Load(); n != keys {
		t.Errorf("Expected %d finished messages, got %d", keys, n)
	}
	expectRows(t, s, 0)
}

func testConcurrentDuplicates(t *testing.T, factory StoreFactory) {
	s := factory(store.Options{})
	defer s.Close()

	const (
		total   = 6
		copies  = 5
		workers = (total - 1) * copies
	)

	var waiting, duplicated atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(index int) {
			defer wg.Done()
			out, err := s.Submit("sam", "tx", total, index, payloadOf("samtx", total, index))
			if err != nil {
				t.Errorf("Submit failed: %v", err)
				return
			}
			switch out.Status {
			case store.StatusWaiting:
				waiting.Add(1)
			case store.StatusDuplicated:
				duplicated.Add(1)
			default:
				t.Errorf("Unexpected status %s", out.Status)
			}
		}(w % (total - 1))
	}
	wg.Wait()

	if n := waiting.Load(); n != total-1 {
		t.Errorf("Expected every fragment to be stored once, got %d stored", n)
	}
	if n := duplicated.Load(); n != workers-(total-1) {
		t.Errorf("Expected %d duplicates, got %d", workers-(total-1), n)
	}
	expectRows(t, s, total-1)

	out := submit(t, s, "sam", "tx", total, total-1)
	expectStatus(t, out, store.StatusFinished)
	if !bytes.Equal(out.Payload, messageOf("samtx", total)) {
		t.Errorf("Wrong merged payload %q", out.Payload)
	}
}
