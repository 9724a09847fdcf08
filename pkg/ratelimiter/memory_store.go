package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucketState struct {
	tokens   int
	refilled time.Time
	expires  time.Time
}

// MemoryStore keeps buckets in process. Only correct with a single replica.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucketState)}
}

func (m *MemoryStore) Take(_ context.Context, key string, n int, now time.Time, cfg Config) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.expires) {
		b = &bucketState{tokens: cfg.Capacity, refilled: now}
		m.buckets[key] = b
	}

	b.tokens, b.refilled = refill(b.tokens, b.refilled, now, cfg)
	remaining := b.tokens - n
	if remaining >= 0 {
		b.tokens = remaining
	}
	b.expires = now.Add(cfg.ttl())
	return remaining, b.refilled.Add(cfg.RefillInterval), nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
	return nil
}

// Prune drops buckets that have been idle long enough to be full again and
// reports how many were removed.
func (m *MemoryStore) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, b := range m.buckets {
		if !now.Before(b.expires) {
			delete(m.buckets, key)
			n++
		}
	}
	return n
}

// Len reports how many buckets are held.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
