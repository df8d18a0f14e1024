// Package cache provides a small concurrency-safe TTL cache used for
// in-process auth tokens. Entries within the refresh margin of expiry read
// as misses so callers re-fetch proactively; redundant re-fetch is allowed
// (there is no single-flight guarantee across concurrent callers).
package cache

import (
	"sync"
	"time"
)

// DefaultRefreshMargin is how long before expiry an entry stops being
// served, forcing a proactive refresh.
const DefaultRefreshMargin = 5 * time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a generic expiry-aware key-value cache.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	margin  time.Duration
}

// NewTTL creates a cache with the given refresh margin. A non-positive
// margin falls back to DefaultRefreshMargin.
func NewTTL[V any](margin time.Duration) *TTL[V] {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		margin:  margin,
	}
}

// Get returns the cached value for key. An entry that has expired, or is
// within the refresh margin of expiring, is a miss.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().Add(c.margin).After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}

	return e.value, true
}

// Put stores value under key for ttl.
func (c *TTL[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes key from the cache.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}
