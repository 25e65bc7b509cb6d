package statuscache

import (
	"sync"
	"time"
)

// Cache is the explicitly-bounded fallback used when a status write to the
// store is flaky. It is never a second source of truth: entries expire on
// their own and the oldest entry is evicted once the bound is reached.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	value     string
	storedAt  time.Time
	expiresAt time.Time
}

func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Cache{
		entries: make(map[string]entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache) Set(key, value string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *Cache) Get(key string) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(now) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
