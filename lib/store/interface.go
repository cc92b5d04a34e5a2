package store

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// DefaultTTL is used when Options.TTL is not set.
const DefaultTTL = 24 * time.Hour

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IFragmentStore keeps the fragments of messages that are not yet complete.
//
// The fragments of one message share a key (identity, transaction). A key is
// created by its first fragment, collects fragments in any order and is
// destroyed exactly once, when the last missing fragment arrives. A fragment
// arriving after that starts a new reassembly.
//
// Expiry is lazy: every fragment that is stored triggers SweepExpired, there
// is no background timer. Callers that need space reclaimed without traffic
// call SweepExpired themselves.
type IFragmentStore interface {
	// Submit adds one fragment and reports the state of its message.
	//
	//   - total == 1: StatusFinished with the payload, nothing is stored
	//   - (total, index) already stored: StatusDuplicated, nothing changes
	//   - other fragments still missing: StatusWaiting with the missing indices
	//   - last missing fragment: StatusFinished with the merged payload, all
	//     rows of the key are deleted
	//
	// Submit is atomic: concurrent calls for the same key never both report
	// StatusFinished and never lose a fragment.
	Submit(identity, transaction string, total, index int, payload []byte) (Outcome, error)
	// Pending returns the stored (not expired) fragments of a key ordered by total and index.
	Pending(identity, transaction string) ([]Fragment, error)
	// SweepExpired deletes all rows whose deadline has passed and returns their number.
	SweepExpired() (int, error)
	// Info returns metadata about the store.
	Info() (Info, error)
	// Clear deletes all rows.
	Clear() error
	// Close releases the resources of the store. The store must not be used afterwards.
	Close() error
}

// Options configures a fragment store.
type Options struct {
	TTL time.Duration    // lifetime of a stored fragment, DefaultTTL if zero
	Now func() time.Time // clock, time.Now if nil
}

// WithDefaults returns a copy of o with the zero values replaced.
func (o Options) WithDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Status is the state of a message after a Submit.
type Status int

const (
	StatusWaiting    Status = iota // 0: fragment stored, others still missing
	StatusDuplicated               // 1: fragment was already stored
	StatusFinished                 // 2: message complete, key removed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusDuplicated:
		return "duplicated"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Key identifies the fragments of one message.
type Key struct {
	Identity    string
	Transaction string
}

func (k Key) String() string {
	return k.Identity + "/" + k.Transaction
}

// Fragment is one stored row.
type Fragment struct {
	Identity    string
	Transaction string
	Total       int
	Index       int
	Payload     []byte
	ExpireAt    time.Time
}

// Expired reports whether the deadline of f has passed at now.
func (f Fragment) Expired(now time.Time) bool {
	return !now.Before(f.ExpireAt)
}

// Outcome is the result of Submit.
type Outcome struct {
	Status  Status
	Total   int
	Index   int
	Missing []int  // 0-based indices still missing (Waiting, Duplicated)
	Payload []byte // merged message (Finished)
}

// Info holds metadata about a fragment store.
// It is not guaranteed that all fields are filled in.
type Info struct {
	Backend   string
	Rows      int    // stored fragments
	Keys      int    // incomplete messages
	SizeBytes uint64 // approximate size on disk or of the payloads in memory
}

// --------------------------------------------------------------------------
// Helper (shared by the implementations)
// --------------------------------------------------------------------------

// CheckPosition validates the position of a fragment.
func CheckPosition(total, index int) error {
	if total < 1 || index < 0 || index >= total {
		return fmt.Errorf("store: invalid fragment position %d of %d", index, total)
	}
	return nil
}

// Contains reports whether rows hold the fragment (total, index).
func Contains(rows []Fragment, total, index int) bool {
	for _, r := range rows {
		if r.Total == total && r.Index == index {
			return true
		}
	}
	return false
}

// Missing returns the indices 0..total-1 not present among the rows with the given total.
func Missing(rows []Fragment, total int) []int {
	seen := make([]bool, total)
	for _, r := range rows {
		if r.Total == total && r.Index >= 0 && r.Index < total {
			seen[r.Index] = true
		}
	}
	missing := make([]int, 0, total)
	for i, ok := range seen {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Merge concatenates the payloads of the rows with the given total ordered by index.
func Merge(rows []Fragment, total int) []byte {
	parts := make([][]byte, total)
	for _, r := range rows {
		if r.Total == total && r.Index >= 0 && r.Index < total {
			parts[r.Index] = r.Payload
		}
	}
	return bytes.Join(parts, nil)
}

// SortFragments orders fragments by total and index.
func SortFragments(rows []Fragment) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total < rows[j].Total
		}
		return rows[i].Index < rows[j].Index
	})
}

// LogOutcome writes a debug line for the result of a Submit.
func LogOutcome(backend string, key Key, out Outcome) {
	log.Debugf("%s: %s fragment %d/%d -> %s (missing %v)", backend, key, out.Index+1, out.Total, out.Status, out.Missing)
}
