package pstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dFrag/lib/store"
)

// Key space of the table:
//
//	f | uvarint(len(identity)) | identity | uvarint(len(transaction)) | transaction | be32(total) | be32(index)  ->  be64(deadline) | payload
//	e | be64(deadline) | row key                                                                                    ->  (empty)
//
// Identity and transaction are length prefixed, so the prefix of a key never
// matches the prefix of another key. Big-endian counters keep the rows of a
// key ordered by total and index, the expiry index ordered by deadline.
const (
	rowPrefix    byte = 'f'
	expiryPrefix byte = 'e'
)

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// keyPrefix returns the common prefix of all rows of a key
func keyPrefix(k store.Key) []byte {
	b := make([]byte, 0, 1+len(k.Identity)+len(k.Transaction)+4)
	b = append(b, rowPrefix)
	b = appendString(b, k.Identity)
	return appendString(b, k.Transaction)
}

func rowKey(k store.Key, total, index int) []byte {
	b := keyPrefix(k)
	b = binary.BigEndian.AppendUint32(b, uint32(total))
	return binary.BigEndian.AppendUint32(b, uint32(index))
}

func readString(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > uint64(len(b)-n) {
		return "", nil, fmt.Errorf("invalid length prefix")
	}
	return string(b[n : n+int(l)]), b[n+int(l):], nil
}

// parseRowKey returns the key and position encoded in a row key
func parseRowKey(b []byte) (store.Key, int, int, error) {
	if len(b) == 0 || b[0] != rowPrefix {
		return store.Key{}, 0, 0, fmt.Errorf("pstore: not a row key: %x", b)
	}
	id, rest, err := readString(b[1:])
	if err != nil {
		return store.Key{}, 0, 0, fmt.Errorf("pstore: row key identity: %w", err)
	}
	tx, rest, err := readString(rest)
	if err != nil {
		return store.Key{}, 0, 0, fmt.Errorf("pstore: row key transaction: %w", err)
	}
	if len(rest) != 8 {
		return store.Key{}, 0, 0, fmt.Errorf("pstore: row key has %d position bytes", len(rest))
	}
	total := int(binary.BigEndian.Uint32(rest[:4]))
	index := int(binary.BigEndian.Uint32(rest[4:]))
	return store.Key{Identity: id, Transaction: tx}, total, index, nil
}

func rowValue(deadline time.Time, payload []byte) []byte {
	b := make([]byte, 0, 8+len(payload))
	b = binary.BigEndian.AppendUint64(b, uint64(deadline.UnixNano()))
	return append(b, payload...)
}

// parseRowValue returns the deadline and a copy of the payload
func parseRowValue(b []byte) (time.Time, []byte, error) {
	if len(b) < 8 {
		return time.Time{}, nil, fmt.Errorf("pstore: row value too short (%d bytes)", len(b))
	}
	deadline := time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
	return deadline, append([]byte{}, b[8:]...), nil
}

func expiryKey(deadline time.Time, row []byte) []byte {
	b := make([]byte, 0, 9+len(row))
	b = append(b, expiryPrefix)
	b = binary.BigEndian.AppendUint64(b, uint64(deadline.UnixNano()))
	return append(b, row...)
}

// expiryBound returns the exclusive upper bound of all expiry keys with a deadline <= now
func expiryBound(now time.Time) []byte {
	b := []byte{expiryPrefix}
	return binary.BigEndian.AppendUint64(b, uint64(now.UnixNano())+1)
}

// prefixEnd returns the smallest key greater than all keys starting with prefix
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
