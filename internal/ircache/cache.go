// Package ircache provides the optional on-disk IR cache with key-based
// invalidation. Entries are keyed by ir.CacheKey - the requirements content hash
// joined with the construction-logic hash - so an IR built by old logic can
// never be served after the logic changed.
package ircache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"specforge/internal/ir"
	"specforge/internal/logging"
)

// cacheVersion is incremented when the cache entry format changes.
// Entries with other versions are treated as misses on load.
const cacheVersion = 2

// Cache stores built IRs on disk, one JSON entry per key, evicted by TTL.
type Cache struct {
	dir     string
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	Key       string             `json:"key"`
	IR        *ir.ApplicationIR  `json:"ir"`
	Timestamp time.Time          `json:"timestamp"`
	Version   int                `json:"version"`
}

// New creates a cache rooted at dir. Existing entries are loaded eagerly.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory path required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	c := &Cache{
		dir:     dir,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
	c.loadFromDisk()
	return c, nil
}

// Get returns the cached IR for key, or nil on miss or TTL expiry.
// Expired entries are evicted on read.
func (c *Cache) Get(key string) *ir.ApplicationIR {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.Version != cacheVersion {
		logging.CacheDebug("IR cache MISS: %s", key)
		return nil
	}
	if c.ttl > 0 && time.Since(e.Timestamp) > c.ttl {
		logging.Cache("IR cache entry expired: %s (age %v)", key, time.Since(e.Timestamp))
		c.Invalidate(key)
		return nil
	}
	logging.CacheDebug("IR cache HIT: %s", key)
	return e.IR
}

// Put stores app under key and persists it.
func (c *Cache) Put(key string, app *ir.ApplicationIR) error {
	e := &entry{
		Key:       key,
		IR:        app,
		Timestamp: time.Now(),
		Version:   cacheVersion,
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}
	path := c.entryPath(key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	logging.CacheDebug("IR cache STORED: %s", key)
	return nil
}

// Invalidate removes the entry for key from memory and disk.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if err := os.Remove(c.entryPath(key)); err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategoryCache).Warn("failed to remove cache entry %s: %v", key, err)
	}
	logging.CacheDebug("IR cache invalidated: %s", key)
}

// InvalidateAll clears every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, k := range keys {
		if err := os.Remove(c.entryPath(k)); err != nil && !os.IsNotExist(err) {
			logging.Get(logging.CategoryCache).Warn("failed to remove cache entry %s: %v", k, err)
		}
	}
	logging.Cache("IR cache cleared (%d entries)", len(keys))
}

// Size returns the number of live entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) loadFromDisk() {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return
	}
	loaded := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil || e.Version != cacheVersion {
			// Stale format - drop it rather than risk serving it.
			os.Remove(path)
			continue
		}
		c.entries[e.Key] = &e
		loaded++
	}
	if loaded > 0 {
		logging.Cache("IR cache loaded %d entries from %s", loaded, c.dir)
	}
}
