// Package mstore implements store.IFragmentStore in memory.
//
// Rows are kept per key in a concurrent hash map; every Submit runs as one
// atomic update of its key. Expired rows are found through a heap ordered by
// deadline and removed lazily after each stored fragment, or when
// SweepExpired is called.
//
// The store is lost when the process exits. Use pstore for a table that
// survives restarts.
package mstore
