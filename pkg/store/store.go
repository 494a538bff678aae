package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tallyd/tallyd/pkg/config"
)

// Store is the durable counter store. Counter records are JSON-encoded
// maps of numeric fields, mutated only through the atomic increment
// transactions below. Badger's serializable transactions detect write
// conflicts, so concurrent increments never lose updates.
type Store struct {
	db *badger.DB

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Key returns the record key for a counter in a logical table.
func Key(table, id string) string {
	return fmt.Sprintf("counter:%s:%s", table, id)
}

func dedupKey(eventID string) []byte {
	return []byte("dedup:" + eventID)
}

// Open opens (or creates) the counter store.
func Open(cfg config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}

	s := &Store{
		db:      db,
		closeCh: make(chan struct{}),
	}

	gcEvery := cfg.GCEvery
	if gcEvery <= 0 {
		gcEvery = 10 * time.Minute
	}
	if !cfg.InMemory {
		s.wg.Add(1)
		go s.gcLoop(gcEvery)
	}
	return s, nil
}

// Increment atomically adds delta to the named numeric field of the record
// at key, creating the record with the field initialized to delta if it
// does not exist. Returns the field's value immediately after the update.
//
// Conflicting transactions are retried; badger guarantees at least one
// conflicting writer commits per round, so the loop terminates.
func (s *Store) Increment(key, field string, delta int64) (int64, error) {
	for {
		var updated int64
		err := s.db.Update(func(txn *badger.Txn) error {
			rec, err := readRecord(txn, key)
			if err != nil {
				return err
			}
			rec[field] += delta
			updated = rec[field]
			return writeRecord(txn, key, rec)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("store.Increment %s: %w", key, err)
		}
		return updated, nil
	}
}

// IncrementOnce is Increment guarded by a deduplication marker: if eventID
// has been seen within ttl, the increment is skipped and the current field
// value is returned with applied=false. The marker is written in the same
// transaction as the counter update, so a crash cannot record one without
// the other.
func (s *Store) IncrementOnce(key, field string, delta int64, eventID string, ttl time.Duration) (value int64, applied bool, err error) {
	for {
		var updated int64
		var did bool
		err := s.db.Update(func(txn *badger.Txn) error {
			did = false
			_, err := txn.Get(dedupKey(eventID))
			switch {
			case err == nil:
				// Duplicate delivery: report the current value unchanged.
				rec, err := readRecord(txn, key)
				if err != nil {
					return err
				}
				updated = rec[field]
				return nil
			case errors.Is(err, badger.ErrKeyNotFound):
			default:
				return err
			}

			rec, err := readRecord(txn, key)
			if err != nil {
				return err
			}
			rec[field] += delta
			updated = rec[field]
			if err := writeRecord(txn, key, rec); err != nil {
				return err
			}
			entry := badger.NewEntry(dedupKey(eventID), nil).WithTTL(ttl)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			did = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("store.IncrementOnce %s: %w", key, err)
		}
		return updated, did, nil
	}
}

// Get returns the current value of the named field, or 0 if the record or
// field does not exist.
func (s *Store) Get(key, field string) (int64, error) {
	var value int64
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		value = rec[field]
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store.Get %s: %w", key, err)
	}
	return value, nil
}

// Ping verifies the store is usable. Registered as a health check.
func (s *Store) Ping() error {
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("ping"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close stops background GC and closes the underlying database.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) gcLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			// Repeat until no more files are rewritten.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						slog.Warn("store value-log GC failed", "error", err)
					}
					break
				}
			}
		}
	}
}

// readRecord loads the JSON record at key, or an empty record if absent.
func readRecord(txn *badger.Txn, key string) (map[string]int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rec map[string]int64
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = map[string]int64{}
	}
	return rec, nil
}

func writeRecord(txn *badger.Txn, key string, rec map[string]int64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}
