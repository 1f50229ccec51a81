// Package cache provides a small in-process TTL cache.
package cache

import (
	"sync"
	"time"
)

// MemoryCache is a TTL cache bounded by entry count. When full, the entry
// stored earliest is evicted.
type MemoryCache[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]item[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type item[V any] struct {
	value    V
	storedAt time.Time
	expires  time.Time
}

// NewMemoryCache creates a cache. A maxSize of zero means unbounded.
func NewMemoryCache[K comparable, V any](defaultTTL time.Duration, maxSize int) *MemoryCache[K, V] {
	return &MemoryCache[K, V]{
		items:   make(map[K]item[V]),
		ttl:     defaultTTL,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores value under key. A zero ttl uses the default.
func (c *MemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, replacing := c.items[key]; !replacing && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}

	now := c.now()
	c.items[key] = item[V]{value: value, storedAt: now, expires: now.Add(ttl)}
}

// Get returns the live value under key
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().After(it.expires) {
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.storedAt.Equal(it.storedAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return it.value, true
}

// Delete removes key
func (c *MemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every entry
func (c *MemoryCache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]item[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache[K, V]) evictOldestLocked() {
	var (
		victim K
		oldest time.Time
		found  bool
	)
	for k, it := range c.items {
		if !found || it.storedAt.Before(oldest) {
			victim, oldest, found = k, it.storedAt, true
		}
	}
	if found {
		delete(c.items, victim)
	}
}

// Sweep drops expired entries and returns how many were removed
func (c *MemoryCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, it := range c.items {
		if now.After(it.expires) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}
