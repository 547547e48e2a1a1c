package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore persists quote payloads in BadgerDB. Entries carry an absolute
// expiry in epoch seconds and badger stops returning them once it has passed.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database at path
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return NewBadgerStore(db), nil
}

// NewBadgerStore wraps an already opened database
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get retrieves a payload by key
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores a payload that expires at expiresAt
func (s *BadgerStore) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	epoch := expiresAt.Unix()
	if epoch <= 0 {
		return fmt.Errorf("invalid expiry %s for cache entry %s", expiresAt, key)
	}

	entry := badger.NewEntry([]byte(key), value)
	entry.ExpiresAt = uint64(epoch)

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}

	return nil
}

// RunGC reclaims value log space every interval until ctx is done. The
// returned channel is closed once the collector has stopped.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Rewrite until badger reports nothing left to collect
				for ctx.Err() == nil && s.db.RunValueLogGC(0.5) == nil {
				}
			}
		}
	}()

	return done
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
