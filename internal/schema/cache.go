package schema

import (
	"sync"
	"time"

	"github.com/msageha/psstudio/internal/model"
)

// Source records where a cached template came from.
type Source string

const (
	SourceServer   Source = "server"
	SourceFallback Source = "fallback"
	SourceLocal    Source = "local"
)

type cacheItem struct {
	template  model.Values
	source    Source
	expiresAt time.Time
}

// templateCache is a thread-safe TTL cache of templates keyed by kind. A zero ttl never
// expires entries.
type templateCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	ttl   time.Duration
	now   func() time.Time
}

func newTemplateCache(ttl time.Duration) *templateCache {
	return &templateCache{
		items: make(map[string]cacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// get returns a deep copy so callers can mutate the result freely.
func (c *templateCache) get(kind string) (model.Values, Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[kind]
	if !ok || c.expired(item) {
		return nil, "", false
	}
	return item.template.Clone(), item.source, true
}

func (c *templateCache) set(kind string, tmpl model.Values, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := cacheItem{template: tmpl.Clone(), source: src}
	// Local edits outlive refreshes until explicitly reset.
	if c.ttl > 0 && src != SourceLocal {
		item.expiresAt = c.now().Add(c.ttl)
	}
	c.items[kind] = item
}

func (c *templateCache) delete(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, kind)
}

func (c *templateCache) source(kind string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[kind]
	if !ok {
		return "", false
	}
	return item.source, true
}

func (c *templateCache) expired(item cacheItem) bool {
	return !item.expiresAt.IsZero() && c.now().After(item.expiresAt)
}

// CacheStats summarizes the cache for status output.
type CacheStats struct {
	Size    int            `json:"size"`
	Expired int            `json:"expired"`
	Sources map[string]int `json:"sources"`
}

func (c *templateCache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{Size: len(c.items), Sources: make(map[string]int)}
	for _, item := range c.items {
		if c.expired(item) {
			stats.Expired++
		}
		stats.Sources[string(item.source)]++
	}
	return stats
}
