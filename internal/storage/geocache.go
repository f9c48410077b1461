package storage

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// GeoResult is one cached geocoding outcome. Miss entries record lookups
// that returned nothing, so a venue that cannot be resolved is not retried
// on every run.
type GeoResult struct {
	Lat  float64 `json:"lat,omitempty"`
	Lng  float64 `json:"lng,omitempty"`
	Miss bool    `json:"miss,omitempty"`
}

// GeoCache is a bounded, concurrency-safe LRU cache of geocoding lookups
// keyed by normalized query string. It is shared by all concurrent pipeline
// runs and can optionally persist to a JSON file between processes.
type GeoCache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	path     string
	dirty    bool
}

type geoCacheEntry struct {
	key    string
	result GeoResult
}

// NewGeoCache creates a cache holding at most maxSize entries. If path is
// non-empty, previously saved entries are loaded from it and Save writes
// back to it.
func NewGeoCache(maxSize int, path string) *GeoCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	c := &GeoCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		path:    path,
	}
	if path != "" {
		c.load()
	}
	return c
}

// NormalizeGeoKey canonicalizes a geocoding query for use as a cache key.
func NormalizeGeoKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Lookup returns the cached result for key, if any.
func (c *GeoCache) Lookup(key string) (GeoResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return GeoResult{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*geoCacheEntry).result, true
}

// Store records a successful lookup.
func (c *GeoCache) Store(key string, lat, lng float64) {
	c.put(key, GeoResult{Lat: lat, Lng: lng})
}

// StoreMiss records that a lookup returned no match.
func (c *GeoCache) StoreMiss(key string) {
	c.put(key, GeoResult{Miss: true})
}

func (c *GeoCache) put(key string, result GeoResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*geoCacheEntry).result = result
		c.order.MoveToFront(elem)
		c.dirty = true
		return
	}
	elem := c.order.PushFront(&geoCacheEntry{key: key, result: result})
	c.entries[key] = elem
	c.dirty = true

	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*geoCacheEntry).key)
	}
}

// Len reports the number of cached entries.
func (c *GeoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache to its backing file, if one is configured and the
// cache changed since the last save.
func (c *GeoCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" || !c.dirty {
		return nil
	}
	snapshot := make(map[string]GeoResult, len(c.entries))
	for key, elem := range c.entries {
		snapshot[key] = elem.Value.(*geoCacheEntry).result
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	c.dirty = false
	return nil
}

func (c *GeoCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snapshot map[string]GeoResult
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return
	}
	for key, result := range snapshot {
		elem := c.order.PushFront(&geoCacheEntry{key: key, result: result})
		c.entries[key] = elem
		if len(c.entries) >= c.maxSize {
			break
		}
	}
}
