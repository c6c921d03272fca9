package counterstore

import (
	"context"
	"sync"
	"time"

	"schoolbell/internal/pkg/clock"
)

// MemoryStore is an in-process Store backed by a mutex-protected map.
// Expired entries are dropped lazily on access and swept periodically
// when a janitor is started.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore creates an empty in-memory counter store. A nil clock
// falls back to the system clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]*memoryEntry),
	}
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (Counter, error) {
	return s.IncrementBy(ctx, key, 1, ttl)
}

// IncrementBy implements Store.
func (s *MemoryStore) IncrementBy(_ context.Context, key string, delta int64, ttl time.Duration) (Counter, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.resetAt.After(now) {
		e = &memoryEntry{resetAt: now.Add(ttl)}
		s.entries[key] = e
	}
	e.count += delta
	return Counter{Count: e.count, ResetAt: e.resetAt}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Counter, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Counter{}, nil
	}
	if !e.resetAt.After(now) {
		delete(s.entries, key)
		return Counter{}, nil
	}
	return Counter{Count: e.count, ResetAt: e.resetAt}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// StartJanitor sweeps expired entries every interval until ctx is
// cancelled, bounding memory for keys that are never read again.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if !e.resetAt.After(now) {
			delete(s.entries, key)
		}
	}
}
