package sources

import (
	"sync"
	"time"
)

// docCache is a thread-safe in-memory document cache. Entries carry an
// expiry deadline and are evicted lazily on lookup; no background
// goroutine.
type docCache struct {
	mu      sync.RWMutex
	entries map[string]docEntry
	ttl     time.Duration
}

type docEntry struct {
	content   string
	expiresAt time.Time
}

func newDocCache(ttl time.Duration) *docCache {
	return &docCache{
		entries: make(map[string]docEntry),
		ttl:     ttl,
	}
}

// get returns cached content if present and not expired.
func (c *docCache) get(url string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Now().After(entry.expiresAt) {
		// Re-check under the write lock: a concurrent put may have
		// refreshed the entry between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[url]; ok && time.Now().After(current.expiresAt) {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return "", false
	}

	return entry.content, true
}

// put stores content, stamping it with a fresh expiry deadline.
func (c *docCache) put(url string, content string) {
	c.mu.Lock()
	c.entries[url] = docEntry{
		content:   content,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}
