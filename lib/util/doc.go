// Package util provides small data structures shared by the fragment store
// implementations.
//
// The package contains:
//   - mapheap: A priority queue that also supports key-based access, used as
//     the expiry index of stored fragments
package util
