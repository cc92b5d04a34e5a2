package mstore

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/ValentinKolb/dFrag/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("store")

const backendName = "memory"

// rowKey identifies one fragment in the expiry index
type rowKey struct {
	store.Key
	Total int
	Index int
}

// memStoreImpl implements the store.IFragmentStore interface in memory.
//
// All rows of a key live in one slice of the table. Every change of a key
// happens inside xsync's Compute, which locks the bucket of the key, so the
// duplicate check, the append and the merge form one atomic step. Slices are
// never modified in place, readers always see a complete snapshot.
//
// The expiry index is a heap of row keys ordered by deadline, guarded by its
// own mutex. Submit changes it inside the Compute of the key (lock order:
// bucket, then mu), so every stored row has an entry with its deadline.
// Entries of rows dropped by lazy expiry may be stale, a sweep re-checks the
// deadline of the rows it deletes.
type memStoreImpl struct {
	opts  store.Options
	table *xsync.MapOf[store.Key, []store.Fragment]

	mu     sync.Mutex
	expiry *util.MapHeap[rowKey]
}

// NewStore creates a new in-memory fragment store.
//
// Thread-safety: The returned store is safe for concurrent use.
func NewStore(opts store.Options) store.IFragmentStore {
	return &memStoreImpl{
		opts:   opts.WithDefaults(),
		table:  xsync.NewMapOf[store.Key, []store.Fragment](),
		expiry: util.NewMapHeap[rowKey](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IFragmentStore)
// --------------------------------------------------------------------------

func (s *memStoreImpl) Submit(identity, transaction string, total, index int, payload []byte) (store.Outcome, error) {
	if err := store.CheckPosition(total, index); err != nil {
		return store.Outcome{}, err
	}

	key := store.Key{Identity: identity, Transaction: transaction}

	// A single fragment is a complete message
	if total == 1 {
		out := store.Outcome{Status: store.StatusFinished, Total: 1, Payload: clone(payload)}
		common.CountFragment(out.Status.String())
		store.LogOutcome(backendName, key, out)
		return out, nil
	}

	now := s.opts.Now()
	row := store.Fragment{
		Identity:    identity,
		Transaction: transaction,
		Total:       total,
		Index:       index,
		Payload:     clone(payload),
		ExpireAt:    now.Add(s.opts.TTL),
	}

	var (
		out     store.Outcome
		dropped int
	)
	s.table.Compute(key, func(rows []store.Fragment, loaded bool) ([]store.Fragment, bool) {
		live := dropExpired(rows, now)
		dropped = len(rows) - len(live)

		if store.Contains(live, total, index) {
			out = store.Outcome{
				Status:  store.StatusDuplicated,
				Total:   total,
				Index:   index,
				Missing: store.Missing(live, total),
			}
			return live, len(live) == 0
		}

		next := make([]store.Fragment, len(live), len(live)+1)
		copy(next, live)
		next = append(next, row)

		missing := store.Missing(next, total)
		if len(missing) == 0 {
			out = store.Outcome{
				Status:  store.StatusFinished,
				Total:   total,
				Index:   index,
				Payload: store.Merge(next, total),
			}
			s.mu.Lock()
			for _, r := range next {
				s.expiry.RemoveByKey(rowKey{Key: key, Total: r.Total, Index: r.Index})
			}
			s.mu.Unlock()
			return nil, true
		}

		out = store.Outcome{
			Status:  store.StatusWaiting,
			Total:   total,
			Index:   index,
			Missing: missing,
		}
		s.mu.Lock()
		s.expiry.AddItem(rowKey{Key: key, Total: total, Index: index}, row.ExpireAt.UnixNano())
		s.mu.Unlock()
		return next, false
	})

	common.CountSwept(dropped)
	common.CountFragment(out.Status.String())
	store.LogOutcome(backendName, key, out)

	if out.Status != store.StatusDuplicated {
		if _, err := s.SweepExpired(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *memStoreImpl) Pending(identity, transaction string) ([]store.Fragment, error) {
	rows, ok := s.table.Load(store.Key{Identity: identity, Transaction: transaction})
	if !ok {
		return nil, nil
	}
	live := dropExpired(rows, s.opts.Now())
	result := make([]store.Fragment, len(live))
	for i, r := range live {
		r.Payload = clone(r.Payload)
		result[i] = r
	}
	store.SortFragments(result)
	return result, nil
}

func (s *memStoreImpl) SweepExpired() (int, error) {
	now := s.opts.Now()

	s.mu.Lock()
	due := s.expiry.PopUntil(now.UnixNano())
	s.mu.Unlock()

	if len(due) == 0 {
		return 0, nil
	}

	keys := make(map[store.Key]struct{}, len(due))
	for _, item := range due {
		keys[item.Key.Key] = struct{}{}
	}

	removed := 0
	for key := range keys {
		s.table.Compute(key, func(rows []store.Fragment, loaded bool) ([]store.Fragment, bool) {
			if !loaded {
				return nil, true
			}
			live := dropExpired(rows, now)
			removed += len(rows) - len(live)
			return live, len(live) == 0
		})
	}

	if removed > 0 {
		log.Debugf("swept %d expired fragments of %d keys", removed, len(keys))
	}
	common.CountSwept(removed)
	return removed, nil
}

func (s *memStoreImpl) Info() (store.Info, error) {
	info := store.Info{Backend: backendName}
	s.table.Range(func(_ store.Key, rows []store.Fragment) bool {
		info.Keys++
		info.Rows += len(rows)
		for _, r := range rows {
			info.SizeBytes += uint64(len(r.Payload))
		}
		return true
	})
	return info, nil
}

func (s *memStoreImpl) Clear() error {
	s.table.Clear()
	s.mu.Lock()
	s.expiry.Clear()
	s.mu.Unlock()
	return nil
}

func (s *memStoreImpl) Close() error {
	return s.Clear()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// dropExpired returns the rows that are not expired at now. The input slice
// is returned unchanged if nothing expired, otherwise a new slice is built.
func dropExpired(rows []store.Fragment, now time.Time) []store.Fragment {
	expired := 0
	for _, r := range rows {
		if r.Expired(now) {
			expired++
		}
	}
	if expired == 0 {
		return rows
	}
	live := make([]store.Fragment, 0, len(rows)-expired)
	for _, r := range rows {
		if !r.Expired(now) {
			live = append(live, r)
		}
	}
	return live
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
