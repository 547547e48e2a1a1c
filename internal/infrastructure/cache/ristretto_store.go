package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/domain/service"
	"github.com/dgraph-io/ristretto/v2"
)

// ErrRejected is returned when ristretto drops a write
var ErrRejected = errors.New("cache write rejected")

// RistrettoStore is a bounded in-process quote cache. maxCost is the total
// size of cached payloads in bytes.
type RistrettoStore struct {
	c     *ristretto.Cache[string, []byte]
	clock service.Clock
}

// NewRistrettoStore creates a ristretto-backed store
func NewRistrettoStore(maxCost int64, clock service.Clock) (*RistrettoStore, error) {
	if clock == nil {
		clock = service.SystemClock{}
	}

	// ~10x the expected number of items, assuming payloads of about 100 bytes
	numCounters := maxCost / 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RistrettoStore{c: c, clock: clock}, nil
}

// Get retrieves a payload by key
func (s *RistrettoStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, found := s.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores a payload until expiresAt. An expiry that already passed removes the key.
func (s *RistrettoStore) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		s.c.Del(key)
		return nil
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	if !s.c.SetWithTTL(key, stored, int64(len(stored)), ttl) {
		return fmt.Errorf("%w: %s", ErrRejected, key)
	}
	s.c.Wait()

	return nil
}

// Close stops ristretto's background goroutines
func (s *RistrettoStore) Close() error {
	s.c.Close()
	return nil
}
