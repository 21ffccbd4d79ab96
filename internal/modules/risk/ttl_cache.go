package risk

import (
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TTLCache is an in-process cache with per-entry expiry, sitting in front of
// the persistent result store to absorb repeated same-day requests. Values
// are held msgpack-encoded so cached results cannot be mutated through shared
// pointers. The clock is injected to keep expiry deterministic in tests.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry
	ttl     time.Duration
	now     func() time.Time
}

type ttlEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewTTLCache creates a cache with the given entry lifetime. A nil now
// defaults to the wall clock.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if now == nil {
		now = time.Now
	}
	return &TTLCache{
		entries: make(map[string]ttlEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get decodes the cached value for key into dst. It reports false on a miss
// or an expired entry.
func (c *TTLCache) Get(key string, dst interface{}) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return false
	}
	if err := msgpack.Unmarshal(entry.payload, dst); err != nil {
		return false
	}
	return true
}

// Set stores value under key with the cache's TTL.
func (c *TTLCache) Set(key string, value interface{}) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = ttlEntry{payload: payload, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes one entry.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTLCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
