// Package cache provides an in-memory, per-key TTL cache used in front of slow data sources.
//
// The cache never serves an entry past its TTL. Computation happens outside of any lock,
// so concurrent misses for the same key may compute twice; the last writer wins.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a cached value and the time it was produced.
type Entry[T any] struct {
	Data      T
	CreatedAt time.Time
	TTL       time.Duration
}

func (e Entry[T]) live(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// Stats reports cache counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is a concurrency-safe TTL cache keyed by string.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithClock overrides the time source, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// New creates an empty cache.
func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries: make(map[string]Entry[T]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && entry.live(c.now()) {
		return entry.Data, true
	}
	var zero T
	return zero, false
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry[T]{Data: value, CreatedAt: c.now(), TTL: ttl}
	c.mu.Unlock()
}

// GetOrCompute returns the live entry for key, or calls compute and caches its result.
// The second return value reports whether the value came from the cache.
// On compute failure any expired entry for key is removed and the error is returned;
// stale data is never served.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	if value, ok := c.Get(key); ok {
		c.hits.Add(1)
		return value, true, nil
	}
	c.misses.Add(1)

	value, err := compute(ctx)
	if err != nil {
		c.deleteIfExpired(key)
		var zero T
		return zero, false, err
	}

	c.Set(key, value, ttl)
	return value, false, nil
}

// Delete removes key.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[T]) deleteIfExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && !entry.live(c.now()) {
		delete(c.entries, key)
	}
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !entry.live(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
