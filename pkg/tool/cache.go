package tool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs the underlying tool call on a cache miss.
type FetchFunc func(ctx context.Context) (*Result, error)

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Cache memoizes successful tool results by normalized call key with a fixed
// TTL. It is shared across concurrent pipeline runs; entries are immutable
// once stored, only TTL-based replacement happens. Concurrent requests for
// the same key collapse into a single upstream call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	flight  singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a read-through cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached result for key, or delegates to fetch on a miss.
// Only successful fetches are stored; failures are never cached. The second
// return value reports whether the result came from the cache.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) (*Result, bool, error) {
	if result, ok := c.lookup(key); ok {
		return result, true, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		// Another waiter may have populated the entry between the miss
		// and acquiring the flight slot.
		if result, ok := c.lookup(key); ok {
			return result, nil
		}

		result, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = &cacheEntry{
			result:    result,
			expiresAt: c.now().Add(c.ttl),
		}
		c.mu.Unlock()

		return result, nil
	})
	if err != nil {
		return nil, false, err
	}

	return v.(*Result), shared, nil
}

func (c *Cache) lookup(key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

// Len returns the number of stored entries, including expired ones not yet
// replaced.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
