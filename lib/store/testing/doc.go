// Package testing provides a reusable test and benchmark suite for
// store.IFragmentStore implementations.
//
// Usage in a backend package:
//
//	func Test(t *testing.T) {
//		storetesting.RunFragmentStoreTests(t, "MemoryStore", func(opts store.Options) store.IFragmentStore {
//			return NewStore(opts)
//		})
//	}
//
// The suite covers the missing list, duplicate detection, the single fragment
// shortcut, order independence, expiry with an injected Clock and concurrent
// submits for the same key.
package testing
