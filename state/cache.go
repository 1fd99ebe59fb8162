package state

import (
	"sync"
	"time"
)

// cacheEntry is one observed record with its expiry.
type cacheEntry struct {
	record  *Record
	absent  bool
	expires time.Time
}

// Cache is the per-run observed-state cache. Entries expire on a TTL so a
// long run re-reads state that may have drifted underneath it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache with the given entry TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: map[string]cacheEntry{},
		ttl:     ttl,
	}
}

// Get returns the cached record for key. The second return distinguishes a
// cached absence (nil, true) from a cache miss (nil, false).
func (c *Cache) Get(key string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	if entry.absent {
		return nil, true
	}
	return entry.record, true
}

// Put stores a record (nil records a confirmed absence).
func (c *Cache) Put(key string, record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		record:  record,
		absent:  record == nil,
		expires: time.Now().Add(c.ttl),
	}
}

// Invalidate drops the entry for key. Executors call this after mutating a
// resource so the next read observes the new state.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset clears the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheEntry{}
}
