// Package cache provides the fixed time-to-live caches used by the calling
// layers to memoise price series and backtest results.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache maps keys to values that expire ttl after they were set. Reads do not
// extend an entry's lifetime. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	items *ttlcache.Cache[K, V]
}

// New creates a Cache whose entries live for ttl. A non-positive ttl disables
// caching: Set becomes a no-op.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl: ttl,
		items: ttlcache.New[K, V](
			ttlcache.WithTTL[K, V](ttl),
			ttlcache.WithDisableTouchOnHit[K, V](),
		),
	}
}

// TTL returns the configured time-to-live.
func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	item := c.items.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set stores value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.items.Delete(key)
}

// DeleteFunc removes every key for which match returns true.
func (c *Cache[K, V]) DeleteFunc(match func(K) bool) {
	for _, k := range c.items.Keys() {
		if match(k) {
			c.items.Delete(k)
		}
	}
}

// Purge drops expired entries and returns how many remain.
func (c *Cache[K, V]) Purge() int {
	c.items.DeleteExpired()
	return c.items.Len()
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}
