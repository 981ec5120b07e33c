// ABOUTME: Thread-safe TTL cache mapping request fingerprints to results.
// ABOUTME: Size-limited with O(1) oldest-first eviction via a linked list.

package pipeline

import (
	"container/list"
	"context"
	"maps"
	"sync"
	"time"
)

// ResultCache stores completed request results keyed by fingerprint.
// Implementations must be safe for concurrent use.
type ResultCache interface {
	// Get returns the cached result for key if present and fresh.
	Get(ctx context.Context, key string) (map[string]any, bool)
	// Put stores the result for key.
	Put(ctx context.Context, key string, result map[string]any)
	Close() error
}

// cacheEntry stores one result with its timestamp and list element.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	result    map[string]any
}

// MemoryCache is the in-process ResultCache. A doubly-linked list maintains
// insertion order for O(1) eviction; a background goroutine sweeps expired
// entries.
type MemoryCache struct {
	mu      sync.RWMutex
	results map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

var _ ResultCache = (*MemoryCache)(nil)

// NewMemoryCache creates a result cache with the given TTL and maximum size.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	c := &MemoryCache{
		results: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns a copy of the cached result for key if it has not expired.
func (c *MemoryCache) Get(ctx context.Context, key string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.results[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	// Top-level copy so callers cannot mutate the cached result.
	return maps.Clone(entry.result), true
}

// Put stores result under key. An existing key is refreshed and moved to the
// back of the eviction order; at capacity the oldest entry is evicted.
func (c *MemoryCache) Put(ctx context.Context, key string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, exists := c.results[key]; exists {
		entry.timestamp = now
		entry.result = result
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.results) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.results[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
		result:    result,
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *MemoryCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.results, key)
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.results {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.results, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call repeatedly.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
