// Package pstore implements store.IFragmentStore on a pebble database, so
// incomplete messages survive restarts of the receiver.
//
// Rows are stored under length-prefixed keys that keep the fragments of one
// message adjacent and ordered. A second key space indexes the rows by
// deadline, which lets a sweep find expired rows without scanning the table.
//
// Usage:
//
//	s, err := pstore.Open("data/fragments", store.Options{TTL: 24 * time.Hour})
//	if err != nil {
//		// handle error
//	}
//	defer s.Close()
package pstore
