// Package store persists sync job history and circuit breaker snapshots in
// an embedded badger database so operational status survives restarts.
// Entries carry a TTL derived from the configured retention, so history
// ages out without a compaction job.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

const (
	jobPrefix     = "job/"
	breakerPrefix = "breaker/"
)

// Store is the durable state store. Safe for concurrent use; badger
// serializes conflicting writes internally.
type Store struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens (or creates) the store at cfg.Path. With cfg.InMemory set the
// store lives in process memory, which tests use to avoid disk fixtures.
func Open(cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Badger rejects a directory in disk-less mode.
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	s := &Store{
		db:        db,
		retention: cfg.Retention(),
		logger:    logger,
		gcStop:    make(chan struct{}),
		gcDone:    make(chan struct{}),
	}
	go s.gcLoop()
	return s, nil
}

// Close stops value log GC and closes the database.
func (s *Store) Close() error {
	close(s.gcStop)
	<-s.gcDone
	return s.db.Close()
}

// SaveJob persists a job record under its id, replacing any prior version.
func (s *Store) SaveJob(rec syncer.JobRecord) error {
	return s.put(jobPrefix+rec.ID, rec)
}

// LoadJob returns the persisted record for id, or types.ErrJobNotFound.
func (s *Store) LoadJob(id string) (syncer.JobRecord, error) {
	var rec syncer.JobRecord
	err := s.get(jobPrefix+id, &rec)
	if err == badger.ErrKeyNotFound {
		return rec, types.ErrJobNotFound
	}
	return rec, err
}

// ListJobs returns up to limit persisted job records, unordered. A limit of
// zero or less means no cap.
func (s *Store) ListJobs(limit int) ([]syncer.JobRecord, error) {
	var out []syncer.JobRecord
	err := s.scan(jobPrefix, func(val []byte) error {
		var rec syncer.JobRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		return nil
	})
	return out, err
}

// SaveBreaker persists one breaker snapshot under its name.
func (s *Store) SaveBreaker(snap resilience.BreakerSnapshot) error {
	return s.put(breakerPrefix+snap.Name, snap)
}

// SaveBreakers persists every snapshot in one transaction. Wired to the
// executor's state change hook so OPEN/CLOSED transitions survive restarts.
func (s *Store) SaveBreakers(snaps map[string]resilience.BreakerSnapshot) error {
	ttl := s.retention
	return s.db.Update(func(txn *badger.Txn) error {
		for name, snap := range snaps {
			val, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode breaker %s: %w", name, err)
			}
			e := badger.NewEntry([]byte(breakerPrefix+name), val)
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadBreakers returns all persisted breaker snapshots keyed by name.
func (s *Store) LoadBreakers() (map[string]resilience.BreakerSnapshot, error) {
	out := make(map[string]resilience.BreakerSnapshot)
	err := s.scan(breakerPrefix, func(val []byte) error {
		var snap resilience.BreakerSnapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			return err
		}
		out[snap.Name] = snap
		return nil
	})
	return out, err
}

func (s *Store) put(key string, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) get(key string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

var errStopScan = fmt.Errorf("stop scan")

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
	if err == errStopScan {
		return nil
	}
	return err
}

// gcLoop reclaims value log space hourly. Badger returns ErrNoRewrite when
// there is nothing to collect, which is the common case and not an error.
func (s *Store) gcLoop() {
	defer close(s.gcDone)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}
