package cache

import (
	"context"
	"sync"
	"time"
)

// Item is a cached value with an expiration time.
type Item struct {
	Value      interface{}
	Expiration int64
}

// TTLStore is a thread-safe expiring cache. The engine uses it for
// domain-level memos (catch-all status, API catch-all status) that must
// not outlive a provider reconfiguration.
type TTLStore struct {
	items map[string]Item
	mu    sync.RWMutex
}

func NewTTL() *TTLStore {
	return &TTLStore{items: make(map[string]Item)}
}

// Set adds a value with a specific TTL.
func (s *TTLStore) Set(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = Item{
		Value:      value,
		Expiration: time.Now().Add(ttl).UnixNano(),
	}
}

// Get retrieves a value. Returns false if the item is absent or expired.
func (s *TTLStore) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, found := s.items[key]
	if !found {
		return nil, false
	}
	if time.Now().UnixNano() > item.Expiration {
		return nil, false
	}
	return item.Value, true
}

// Cleanup removes expired items.
func (s *TTLStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	for k, v := range s.items {
		if now > v.Expiration {
			delete(s.items, k)
		}
	}
}

// StartCleanup launches a goroutine that calls Cleanup on the given
// interval until ctx is cancelled.
func (s *TTLStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
