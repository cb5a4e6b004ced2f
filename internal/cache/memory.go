package cache

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	payload   []byte
	expiresAt int64
}

// MemoryStore is a bounded in-process LRU, the least recently used entries
// are evicted once size is reached.
type MemoryStore struct {
	lru   *expirable.LRU[string, memoryEntry]
	clock chrono.TimeAPI
}

// NewMemoryStore creates a store holding at most size entries, nothing is
// kept longer than maxTTL regardless of the ttl it was set with.
func NewMemoryStore(size int, maxTTL time.Duration, clock chrono.TimeAPI) MemoryStore {
	assert.NotNil(clock, "clock")
	if size <= 0 {
		size = 4096
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return MemoryStore{
		lru:   expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		clock: clock,
	}
}

func (s MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if expired(s.clock.Now(), entry.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return entry.payload, true, nil
}

func (s MemoryStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.lru.Add(key, memoryEntry{
		payload:   stored,
		expiresAt: expiresAt(s.clock.Now(), ttl),
	})
	return nil
}

func (s MemoryStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	removed := 0
	for _, key := range s.lru.Keys() {
		if MatchPattern(pattern, key) && s.lru.Remove(key) {
			removed++
		}
	}
	return removed, nil
}
