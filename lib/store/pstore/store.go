package pstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

const backendName = "pebble"

// pebbleStoreImpl implements the store.IFragmentStore interface on a pebble database.
//
// Every operation that changes the table runs under one mutex and is
// committed as a single batch, so a Submit (including the merge and the
// deletion of a finished key) is atomic and durable. Pebble's directory lock
// prevents a second process from opening the same table.
type pebbleStoreImpl struct {
	opts store.Options
	path string
	db   *pebble.DB
	mu   sync.Mutex
}

// Open opens (or creates) a fragment table in the directory path.
// An empty path creates a table in memory, which is lost on Close.
func Open(path string, opts store.Options) (store.IFragmentStore, error) {
	pebbleOpts := &pebble.Options{Logger: pebbleLogger{}}
	if path == "" {
		pebbleOpts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("pstore: open %q: %w", path, err)
	}

	s := &pebbleStoreImpl{
		opts: opts.WithDefaults(),
		path: path,
		db:   db,
	}
	log.Infof("opened fragment table %q (ttl %s)", path, s.opts.TTL)
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IFragmentStore)
// --------------------------------------------------------------------------

func (s *pebbleStoreImpl) Submit(identity, transaction string, total, index int, payload []byte) (store.Outcome, error) {
	if err := store.CheckPosition(total, index); err != nil {
		return store.Outcome{}, err
	}

	key := store.Key{Identity: identity, Transaction: transaction}

	// A single fragment is a complete message
	if total == 1 {
		out := store.Outcome{Status: store.StatusFinished, Total: 1, Payload: append([]byte{}, payload...)}
		common.CountFragment(out.Status.String())
		store.LogOutcome(backendName, key, out)
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	rows, err := s.load(key)
	if err != nil {
		return store.Outcome{}, err
	}

	var live, expired []store.Fragment
	for _, r := range rows {
		if r.Expired(now) {
			expired = append(expired, r)
		} else {
			live = append(live, r)
		}
	}

	if store.Contains(live, total, index) {
		out := store.Outcome{
			Status:  store.StatusDuplicated,
			Total:   total,
			Index:   index,
			Missing: store.Missing(live, total),
		}
		common.CountFragment(out.Status.String())
		store.LogOutcome(backendName, key, out)
		return out, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	// rows of this key that expired but were not swept yet
	for _, r := range expired {
		if err := deleteRow(batch, r); err != nil {
			return store.Outcome{}, err
		}
	}

	row := store.Fragment{
		Identity:    identity,
		Transaction: transaction,
		Total:       total,
		Index:       index,
		Payload:     payload,
		ExpireAt:    now.Add(s.opts.TTL),
	}
	next := append(live, row)

	var out store.Outcome
	if missing := store.Missing(next, total); len(missing) > 0 {
		out = store.Outcome{Status: store.StatusWaiting, Total: total, Index: index, Missing: missing}
		rk := rowKey(key, total, index)
		if err := batch.Set(rk, rowValue(row.ExpireAt, payload), nil); err != nil {
			return store.Outcome{}, err
		}
		if err := batch.Set(expiryKey(row.ExpireAt, rk), nil, nil); err != nil {
			return store.Outcome{}, err
		}
	} else {
		out = store.Outcome{Status: store.StatusFinished, Total: total, Index: index, Payload: store.Merge(next, total)}
		// the new row was never written, every stored row of the key goes
		for _, r := range live {
			if err := deleteRow(batch, r); err != nil {
				return store.Outcome{}, err
			}
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return store.Outcome{}, fmt.Errorf("pstore: commit: %w", err)
	}

	common.CountSwept(len(expired))
	common.CountFragment(out.Status.String())
	store.LogOutcome(backendName, key, out)

	if _, err := s.sweepLocked(now); err != nil {
		return out, err
	}
	return out, nil
}

func (s *pebbleStoreImpl) Pending(identity, transaction string) ([]store.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load(store.Key{Identity: identity, Transaction: transaction})
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	live := rows[:0]
	for _, r := range rows {
		if !r.Expired(now) {
			live = append(live, r)
		}
	}
	return live, nil
}

func (s *pebbleStoreImpl) SweepExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.opts.Now())
}

func (s *pebbleStoreImpl) Info() (store.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := store.Info{Backend: backendName}
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{rowPrefix},
		UpperBound: []byte{rowPrefix + 1},
	})

	var last store.Key
	for iter.First(); iter.Valid(); iter.Next() {
		key, _, _, err := parseRowKey(iter.Key())
		if err != nil {
			iter.Close()
			return info, err
		}
		if info.Rows == 0 || key != last {
			info.Keys++
			last = key
		}
		info.Rows++
	}
	if err := iter.Close(); err != nil {
		return info, err
	}

	info.SizeBytes = s.db.Metrics().DiskSpaceUsage()
	return info, nil
}

func (s *pebbleStoreImpl) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteRange([]byte{expiryPrefix}, []byte{rowPrefix + 1}, pebble.Sync); err != nil {
		return fmt.Errorf("pstore: clear: %w", err)
	}
	log.Infof("cleared fragment table %q", s.path)
	return nil
}

func (s *pebbleStoreImpl) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// load returns all rows of a key (including expired ones) ordered by total and index
func (s *pebbleStoreImpl) load(key store.Key) ([]store.Fragment, error) {
	prefix := keyPrefix(key)
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})

	var rows []store.Fragment
	for iter.First(); iter.Valid(); iter.Next() {
		_, total, index, err := parseRowKey(iter.Key())
		if err != nil {
			iter.Close()
			return nil, err
		}
		deadline, payload, err := parseRowValue(iter.Value())
		if err != nil {
			iter.Close()
			return nil, err
		}
		rows = append(rows, store.Fragment{
			Identity:    key.Identity,
			Transaction: key.Transaction,
			Total:       total,
			Index:       index,
			Payload:     payload,
			ExpireAt:    deadline,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("pstore: read %s: %w", key, err)
	}
	return rows, nil
}

// sweepLocked deletes all rows with a deadline <= now. The caller must hold s.mu.
func (s *pebbleStoreImpl) sweepLocked(now time.Time) (int, error) {
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{expiryPrefix},
		UpperBound: expiryBound(now),
	})

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		ek := iter.Key()
		if err := batch.Delete(ek[9:], nil); err != nil {
			iter.Close()
			return 0, err
		}
		if err := batch.Delete(ek, nil); err != nil {
			iter.Close()
			return 0, err
		}
		removed++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("pstore: commit sweep: %w", err)
	}
	log.Debugf("swept %d expired fragments", removed)
	common.CountSwept(removed)
	return removed, nil
}

// deleteRow adds the deletion of a row and its expiry entry to a batch
func deleteRow(batch *pebble.Batch, r store.Fragment) error {
	rk := rowKey(store.Key{Identity: r.Identity, Transaction: r.Transaction}, r.Total, r.Index)
	if err := batch.Delete(rk, nil); err != nil {
		return err
	}
	return batch.Delete(expiryKey(r.ExpireAt, rk), nil)
}

// --------------------------------------------------------------------------
// Pebble Logger
// --------------------------------------------------------------------------

// pebbleLogger forwards pebble's log output to the store logger
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
