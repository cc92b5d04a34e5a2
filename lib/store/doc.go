// Package store defines the reassembly buffer of dFrag: a table of fragments
// keyed by (identity, transaction) with duplicate detection, a completeness
// check and lazy expiry.
//
// Key Components:
//
//   - IFragmentStore Interface: Submit adds one fragment and reports whether
//     the message is waiting for more fragments, was already seen or is now
//     complete. A complete message is merged and all rows of its key are
//     deleted in the same atomic step, so a message is finished exactly once.
//
//   - Options: The time to live of stored fragments and the clock. Tests
//     inject a clock to exercise expiry.
//
//   - Helpers: Missing, Merge and Contains implement the completeness rules
//     once for all backends. Only rows with the total of the submitted
//     fragment take part, rows with another total belong to another encoding
//     of the same transaction.
//
// Implementations:
//
//   - In-Memory Store (mstore): a concurrent hash map with per-key atomic
//     updates and a heap ordered by deadline as expiry index.
//     Available in the "github.com/ValentinKolb/dFrag/lib/store/mstore" package.
//
//   - Pebble Store (pstore): a durable table in a pebble database. Each
//     submit is committed as a single batch.
//     Available in the "github.com/ValentinKolb/dFrag/lib/store/pstore" package.
//
// Both implementations are tested with the shared suite in
// "github.com/ValentinKolb/dFrag/lib/store/testing".
package store
