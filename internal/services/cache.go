package services

import (
	"sync"
	"time"
)

// cacheEntry is one cached validation result
type cacheEntry struct {
	result    ValidationResult
	expiresAt time.Time
}

// validationCache absorbs repeated validation queries for the same
// principal within a short TTL. Entries are invalidated wholesale when a
// purchase event changes any license, so a deactivation is visible after at
// most one TTL.
type validationCache struct {
	entries map[string]cacheEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	maxSize int
}

// newValidationCache creates a validation cache. A non-positive TTL
// disables caching entirely.
func newValidationCache(ttl time.Duration, maxSize int) *validationCache {
	return &validationCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// get returns a cached result if present and fresh
func (c *validationCache) get(email string) (*ValidationResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[email]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	result := entry.result
	return &result, true
}

// set stores a validation result
func (c *validationCache) set(email string, result ValidationResult) {
	if c.ttl <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[email] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// purge drops all entries
func (c *validationCache) purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// evictOldest removes the entry closest to expiry; callers hold the lock
func (c *validationCache) evictOldest() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
