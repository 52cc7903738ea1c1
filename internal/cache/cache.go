// Package cache holds recently fetched tool self-descriptions so repeated
// admissions of the same URL do not refetch within a short window.
package cache

import (
	"strings"
	"sync"
	"time"
)

// entry wraps a cached document with expiry and insertion order tracking.
type entry struct {
	doc       []byte
	expiry    time.Time
	insertIdx int64
}

// DocumentCache caches raw self-description documents keyed by their URL.
// Thread-safe with sync.RWMutex.
type DocumentCache struct {
	mu         sync.RWMutex
	items      map[string]entry
	ttl        time.Duration
	maxEntries int
	nextIdx    int64
	now        func() time.Time
}

// New creates a DocumentCache with the given TTL and max entry count.
// A non-positive TTL disables caching.
func New(ttl time.Duration, maxEntries int) *DocumentCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &DocumentCache{
		items:      make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Key normalizes a document URL so "http://h:1/" and "http://h:1" share an entry.
func Key(url string) string {
	return strings.TrimRight(url, "/")
}

// Get returns a cached document if found and not expired.
func (c *DocumentCache) Get(url string) ([]byte, bool) {
	key := Key(url)
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().After(e.expiry) {
		c.mu.Lock()
		if e2, ok2 := c.items[key]; ok2 && c.now().After(e2.expiry) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.doc, true
}

// Set stores a document. Evicts the oldest entry if at capacity.
func (c *DocumentCache) Set(url string, doc []byte) {
	if c.ttl <= 0 {
		return
	}
	key := Key(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{
		doc:       doc,
		expiry:    c.now().Add(c.ttl),
		insertIdx: c.nextIdx,
	}
	c.nextIdx++

	if _, exists := c.items[key]; exists {
		c.items[key] = e
		return
	}

	if len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = e
}

// Invalidate drops the entry for url, if any.
func (c *DocumentCache) Invalidate(url string) {
	c.mu.Lock()
	delete(c.items, Key(url))
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *DocumentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the lowest insertIdx. Must be called with mu held.
func (c *DocumentCache) evictOldest() {
	var oldestKey string
	var oldestIdx int64 = -1

	for key, e := range c.items {
		if oldestIdx == -1 || e.insertIdx < oldestIdx {
			oldestIdx = e.insertIdx
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
