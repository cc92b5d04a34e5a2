package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dFrag/lib/store"
)

// RunFragmentStoreBenchmarks runs all benchmarks for a fragment store implementation
func RunFragmentStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {

	b.Run("SubmitWaiting", func(b *testing.B) {
		benchmarkSubmitWaiting(b, factory(store.Options{}))
	})

	b.Run("SubmitComplete", func(b *testing.B) {
		benchmarkSubmitComplete(b, factory(store.Options{}))
	})

	b.Run("SubmitDuplicate", func(b *testing.B) {
		benchmarkSubmitDuplicate(b, factory(store.Options{}))
	})

	b.Run("Pending", func(b *testing.B) {
		benchmarkPending(b, factory(store.Options{}))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

var payload = make([]byte, 256)

// Benchmark for storing the first fragment of new messages
func benchmarkSubmitWaiting(b *testing.B, s store.IFragmentStore) {

	b.Cleanup(func() {
		s.Close()
	})

	var worker atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := fmt.Sprintf("worker-%d", worker.Add(1))
		counter := 0
		for pb.Next() {
			if _, err := s.Submit(id, fmt.Sprintf("tx-%d", counter), 4, 0, payload); err != nil {
				b.Errorf("Submit failed: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for complete messages of 4 fragments
func benchmarkSubmitComplete(b *testing.B, s store.IFragmentStore) {

	b.Cleanup(func() {
		s.Close()
	})

	var worker atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := fmt.Sprintf("worker-%d", worker.Add(1))
		counter := 0
		for pb.Next() {
			tx := fmt.Sprintf("tx-%d", counter/4)
			if _, err := s.Submit(id, tx, 4, counter%4, payload); err != nil {
				b.Errorf("Submit failed: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for resubmitting a stored fragment
func benchmarkSubmitDuplicate(b *testing.B, s store.IFragmentStore) {

	b.Cleanup(func() {
		s.Close()
	})

	if _, err := s.Submit("dup", "tx", 4, 0, payload); err != nil {
		b.Fatalf("Submit failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Submit("dup", "tx", 4, 0, payload); err != nil {
				b.Errorf("Submit failed: %v", err)
			}
		}
	})
}

// Benchmark for reading the fragments of a key
func benchmarkPending(b *testing.B, s store.IFragmentStore) {

	b.Cleanup(func() {
		s.Close()
	})

	for i := 0; i < 3; i++ {
		if _, err := s.Submit("pending", "tx", 4, i, payload); err != nil {
			b.Fatalf("Submit failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Pending("pending", "tx"); err != nil {
				b.Errorf("Pending failed: %v", err)
			}
		}
	})
}
