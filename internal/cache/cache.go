// Package cache provides a generic TTL+LRU cache, used for the HTTP read
// API's response cache (§5: "TTL per entry, LRU eviction, cap ≈1,000 entries"). It generalizes
// mroxso-wotrlay's RankCache (rank.go), which inlined this pattern for a single
// concrete value type.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value   V
	storedAt time.Time
}

// Cache is a generic TTL-aware LRU cache. Zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[K, entry[V]]
	ttl time.Duration
}

// New creates a cache capped at `size` entries, each valid for `ttl`.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = 1000
	}
	c, err := lru.New[K, entry[V]](size)
	if err != nil {
		panic(err)
	}
	return &Cache[K, V]{lru: c, ttl: ttl}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its timestamp.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, storedAt: time.Now()})
}

// Remove evicts key, if present.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the current population.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
