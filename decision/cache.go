package decision

import (
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

type cacheEntry struct {
	result    core.DecisionResult
	expiresAt time.Time
}

// Cache holds recent decisions keyed by task shape. Entries expire after
// the configured TTL; a stale target inside the window is acceptable and
// surfaces as an execution failure handled by the caller.
type Cache struct {
	ttl time.Duration

	mu        sync.Mutex
	entries   map[string]cacheEntry
	hits      uint64
	misses    uint64
	evictions uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCache creates a decision cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		stopCh:  make(chan struct{}),
	}
}

// Get returns a copy of the cached decision for key, false on miss or
// expiry.
func (c *Cache) Get(key string) (*core.DecisionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	result := entry.result
	return &result, true
}

// Put stores a decision under key, replacing any previous entry.
func (c *Cache) Put(key string, result *core.DecisionResult) {
	if c.ttl <= 0 || result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: *result, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// StartCleanup launches a background sweep that evicts expired entries at
// the given interval.
func (c *Cache) StartCleanup(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// StopCleanup terminates the background sweep.
func (c *Cache) StopCleanup() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}
