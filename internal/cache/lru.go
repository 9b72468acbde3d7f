package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRU is a fixed-capacity least-recently-used map safe for concurrent use.
// Every operation holds a single mutex for its full duration, so Pop and
// Update are atomic with respect to other callers.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[K, V]
	capacity int

	// Stats
	hits      int64
	misses    int64
	evictions int64
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// New creates an LRU holding at most capacity entries.
func New[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be >= 1, got %d", capacity)
	}
	l, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRU[K, V]{lru: l, capacity: capacity}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Peek returns the value for key without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Put inserts or replaces key and marks it most recently used.
// It reports whether the least recently used entry was evicted to make room.
func (c *LRU[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.lru.Add(key, value)
	if evicted {
		c.evictions++
	}
	return evicted
}

// Pop removes key and returns the value it held.
func (c *LRU[K, V]) Pop(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Peek(key)
	if !ok {
		c.misses++
		return v, false
	}
	c.lru.Remove(key)
	c.hits++
	return v, true
}

// Update replaces the value for a present key with fn(old) and marks it most
// recently used. The old value is returned. Absent keys are left absent and
// fn is not called. fn runs under the cache lock and must not call back into
// the cache.
func (c *LRU[K, V]) Update(key K, fn func(V) V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return old, false
	}
	c.hits++
	c.lru.Add(key, fn(old))
	return old, true
}

// Contains reports whether key is present without touching its recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cap returns the configured capacity.
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Keys returns the cached keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Purge removes every entry. Counters are kept.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns current statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
