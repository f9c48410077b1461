package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestGeoCacheHitAndMiss(t *testing.T) {
	cache := NewGeoCache(10, "")
	key := NormalizeGeoKey("  Platz der Deutschen  Einheit 1, Hamburg ")

	if _, ok := cache.Lookup(key); ok {
		t.Error("empty cache should not hit")
	}

	cache.Store(key, 53.541, 9.984)
	result, ok := cache.Lookup(key)
	if !ok || result.Miss {
		t.Fatal("stored entry should hit")
	}
	if result.Lat != 53.541 || result.Lng != 9.984 {
		t.Errorf("wrong coordinates: %+v", result)
	}
}

func TestGeoCacheNegativeCaching(t *testing.T) {
	cache := NewGeoCache(10, "")
	key := NormalizeGeoKey("Nirgendwo 99, Hamburg")

	cache.StoreMiss(key)
	result, ok := cache.Lookup(key)
	if !ok {
		t.Fatal("miss entry should still hit the cache")
	}
	if !result.Miss {
		t.Error("entry should be marked as a miss")
	}
}

func TestGeoCacheLRUEviction(t *testing.T) {
	cache := NewGeoCache(3, "")
	for i := 0; i < 3; i++ {
		cache.Store(fmt.Sprintf("key-%d", i), float64(i), float64(i))
	}

	// Touch key-0 so key-1 becomes the eviction victim.
	if _, ok := cache.Lookup("key-0"); !ok {
		t.Fatal("key-0 should be present")
	}
	cache.Store("key-3", 3, 3)

	if _, ok := cache.Lookup("key-1"); ok {
		t.Error("least recently used entry should be evicted")
	}
	for _, key := range []string{"key-0", "key-2", "key-3"} {
		if _, ok := cache.Lookup(key); !ok {
			t.Errorf("entry %s should survive eviction", key)
		}
	}
	if cache.Len() != 3 {
		t.Errorf("cache size = %d, want 3", cache.Len())
	}
}

func TestGeoCachePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode_cache.json")

	cache := NewGeoCache(10, path)
	cache.Store("elbphilharmonie hamburg", 53.541, 9.984)
	cache.StoreMiss("nirgendwo hamburg")
	if err := cache.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded := NewGeoCache(10, path)
	hit, ok := reloaded.Lookup("elbphilharmonie hamburg")
	if !ok || hit.Lat != 53.541 {
		t.Errorf("persisted hit not reloaded: %+v ok=%v", hit, ok)
	}
	miss, ok := reloaded.Lookup("nirgendwo hamburg")
	if !ok || !miss.Miss {
		t.Errorf("persisted miss not reloaded: %+v ok=%v", miss, ok)
	}
}

func TestGeoCacheSaveSkipsWhenClean(t *testing.T) {
	cache := NewGeoCache(10, filepath.Join(t.TempDir(), "missing", "cache.json"))
	// Nothing stored; Save must not attempt a write.
	if err := cache.Save(); err != nil {
		t.Errorf("clean cache save should be a no-op: %v", err)
	}
}

func TestGeoCacheConcurrentAccess(t *testing.T) {
	cache := NewGeoCache(64, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key-%d", (n+j)%32)
				cache.Store(key, float64(j), float64(j))
				cache.Lookup(key)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > 64 {
		t.Errorf("cache exceeded its bound: %d", cache.Len())
	}
}

func TestNormalizeGeoKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Große  Freiheit 36 ", "große freiheit 36"},
		{"ELBPHILHARMONIE", "elbphilharmonie"},
		{"a\tb\nc", "a b c"},
	}
	for _, tc := range cases {
		if got := NormalizeGeoKey(tc.in); got != tc.want {
			t.Errorf("NormalizeGeoKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
