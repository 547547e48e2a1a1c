package cache

import (
	"context"
	"sync"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/domain/service"
)

// memoryEntry is a stored payload with its absolute expiry
type memoryEntry struct {
	Value     []byte
	ExpiresAt time.Time
}

// MemoryStore provides a thread-safe in-memory quote cache. Expiry is checked
// against the injected clock, so tests can move time forward.
type MemoryStore struct {
	entries map[string]memoryEntry
	clock   service.Clock
	mutex   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clock service.Clock) *MemoryStore {
	if clock == nil {
		clock = service.SystemClock{}
	}

	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns the payload if present and not expired
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, exists := s.entries[key]
	if !exists || !s.clock.Now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a copy of the payload until expiresAt
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key] = memoryEntry{Value: stored, ExpiresAt: expiresAt}
	return nil
}

// Clear removes every entry
func (s *MemoryStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries = make(map[string]memoryEntry)
}

// Size returns the number of entries, expired ones included
func (s *MemoryStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.entries)
}

// CleanExpired removes expired entries and returns how many were removed
func (s *MemoryStore) CleanExpired() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := 0
	now := s.clock.Now()

	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			count++
		}
	}

	return count
}

// StartJanitor calls CleanExpired every interval until ctx is done
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanExpired()
			}
		}
	}()
}
