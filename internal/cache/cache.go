// file: internal/cache/cache.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d

// Package cache provides a small TTL map. The queue keeps per-resource
// rate-limit backoff deadlines in it.
package cache

import (
	"sync"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a generic TTL cache safe for concurrent use. Expired entries are
// invisible and dropped lazily.
type Cache[T any] struct {
	mu         sync.RWMutex
	items      map[string]entry[T]
	defaultTTL time.Duration
	clock      clock.Clock
}

// New creates a cache with the given default TTL on the wall clock.
func New[T any](defaultTTL time.Duration) *Cache[T] {
	return NewWithClock[T](defaultTTL, clock.Real{})
}

// NewWithClock creates a cache driven by clk.
func NewWithClock[T any](defaultTTL time.Duration, clk clock.Clock) *Cache[T] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache[T]{
		items:      make(map[string]entry[T]),
		defaultTTL: defaultTTL,
		clock:      clk,
	}
}

// Get retrieves a value if it exists and hasn't expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	v, _, ok := c.GetWithTTL(key)
	return v, ok
}

// GetWithTTL also returns the remaining lifetime.
func (c *Cache[T]) GetWithTTL(key string) (T, time.Duration, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !now.Before(e.expiresAt) {
		var zero T
		return zero, 0, false
	}
	return e.value, e.expiresAt.Sub(now), true
}

// Set stores a value with the default TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a specific TTL. A non-positive TTL removes
// the key.
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		c.Invalidate(key)
		return
	}
	expires := c.clock.Now().Add(ttl)
	c.mu.Lock()
	c.items[key] = entry[T]{value: value, expiresAt: expires}
	c.mu.Unlock()
}

// Extend stores value unless an entry that outlives ttl already exists.
// It reports whether the entry was written.
func (c *Cache[T]) Extend(key string, value T, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	expires := c.clock.Now().Add(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok && !e.expiresAt.Before(expires) {
		return false
	}
	c.items[key] = entry[T]{value: value, expiresAt: expires}
	return true
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[string]entry[T])
	c.mu.Unlock()
}

// Purge drops expired entries and returns how many remain.
func (c *Cache[T]) Purge() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
		}
	}
	return len(c.items)
}
