package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	clock    func() time.Time
	counters map[string]counter
}

type counter struct {
	n       int64
	expires time.Time
}

func NewMemoryStore() *MemoryStore { return NewMemoryStoreWithClock(time.Now) }

func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	return &MemoryStore{clock: clock, counters: make(map[string]counter)}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	c, ok := s.counters[key]
	if !ok || (!c.expires.IsZero() && !now.Before(c.expires)) {
		c = counter{}
		if ttl > 0 {
			c.expires = now.Add(ttl)
		}
	}
	c.n++
	s.counters[key] = c
	return c.n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

var _ Store = (*MemoryStore)(nil)
