package infra

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one cached value with its expiry and LRU bookkeeping.
type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// CacheStats tracks cache effectiveness (for monitoring).
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe TTL + size bounded cache with LRU eviction.
// Used for venue reads (balances, positions, market snapshots) as a
// fallback when live reads fail. Entry count never exceeds capacity and
// no entry is served past its expiry (lazy removal plus Sweep).
//
// Each cache holds its own lock; unrelated caches never serialize.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*list.Element
	lru      *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	stats    CacheStats

	now func() time.Time
}

// NewCache creates a bounded TTL cache.
func NewCache[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		entries:  make(map[K]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached value, or a miss if absent or expired.
// Expired entries are removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[K, V])
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		c.stats.Misses++
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.stats.Hits++
	return entry.value, true
}

// Put stores a value, evicting the least-recently-used entry first when
// at capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores a value with a custom time-to-live.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.expiresAt = c.now().Add(ttl)
		c.lru.MoveToFront(elem)
		return
	}

	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}

	elem := c.lru.PushFront(&cacheEntry[K, V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
	c.entries[key] = elem
}

// Delete removes a key. Returns true if it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Sweep removes all expired entries and returns how many were dropped.
// Called periodically; lazy expiry in Get covers the gaps between sweeps.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry[K, V])
		if !now.Before(entry.expiresAt) {
			c.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache[K, V]) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[K, V])
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
}
