package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a map guarded by a RWMutex. Entries are
// never evicted by size or time; only Delete and Flush remove them.
type MemoryStore[T any] struct {
	mu   sync.RWMutex
	data map[string]Entry[T]
	ttl  time.Duration
	now  Clock
}

// NewMemoryStore creates an empty store. A non-positive ttl uses DefaultTTL and a nil clock uses time.Now.
func NewMemoryStore[T any](ttl time.Duration, now Clock) *MemoryStore[T] {
	return &MemoryStore[T]{
		data: make(map[string]Entry[T]),
		ttl:  ttlOrDefault(ttl),
		now:  clockOrDefault(now),
	}
}

// Get returns the entry for key whether or not it has expired.
func (s *MemoryStore[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok, nil
}

// IsValid reports whether entry is younger than the TTL.
func (s *MemoryStore[T]) IsValid(entry Entry[T]) bool {
	return isFresh(entry.Timestamp, s.ttl, s.now())
}

// Put stores value stamped with the current time, replacing any prior entry.
// The new timestamp never precedes the one it replaces.
func (s *MemoryStore[T]) Put(ctx context.Context, key string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now()
	if prev, ok := s.data[key]; ok && ts.Before(prev.Timestamp) {
		ts = prev.Timestamp
	}
	s.data[key] = Entry[T]{Value: value, Timestamp: ts}
	return nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore[T]) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Entry[T])
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
