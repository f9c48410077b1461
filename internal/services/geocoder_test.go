package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hamburg-family-events-scraper/internal/models"
	"hamburg-family-events-scraper/internal/storage"
)

func testGeocoder(t *testing.T, handler http.HandlerFunc) (*Geocoder, *storage.GeoCache) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cache := storage.NewGeoCache(64, "")
	geocoder := NewGeocoder("hamburg", "family-events-scraper-test/1.0", cache,
		time.Millisecond, 2*time.Second, quietTestLogger())
	geocoder.SetEndpoint(server.URL)
	return geocoder, cache
}

func nominatimHit(lat, lon string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"lat": lat, "lon": lon}})
	}
}

func TestGeocoderResolvesAddress(t *testing.T) {
	var query atomic.Value
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("q"))
		nominatimHit("53.5413", "9.9841")(w, r)
	})

	loc := &models.Location{
		Name:    models.StringPtr("Elbphilharmonie"),
		Address: models.StringPtr("Platz der Deutschen Einheit 1, 20457 Hamburg"),
	}
	if !geocoder.Resolve(context.Background(), loc) {
		t.Fatal("resolve should succeed")
	}
	if loc.Lat == nil || loc.Lng == nil || *loc.Lat != 53.5413 || *loc.Lng != 9.9841 {
		t.Errorf("coordinates wrong: lat=%v lng=%v", loc.Lat, loc.Lng)
	}
	// The address is preferred over the venue name and keeps its region.
	if q := query.Load().(string); q != "Platz der Deutschen Einheit 1, 20457 Hamburg, Germany" {
		t.Errorf("unexpected query %q", q)
	}
}

func TestGeocoderFallsBackToVenueName(t *testing.T) {
	var query atomic.Value
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("q"))
		nominatimHit("53.6", "10.0")(w, r)
	})

	loc := &models.Location{
		Name:     models.StringPtr("Stadtpark"),
		District: models.StringPtr("Winterhude"),
	}
	if !geocoder.Resolve(context.Background(), loc) {
		t.Fatal("resolve should succeed")
	}
	if q := query.Load().(string); q != "Stadtpark, Winterhude, Hamburg, Germany" {
		t.Errorf("unexpected query %q", q)
	}
}

func TestGeocoderCachesHits(t *testing.T) {
	var calls atomic.Int32
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		nominatimHit("53.5", "10.0")(w, r)
	})

	for i := 0; i < 3; i++ {
		loc := &models.Location{Address: models.StringPtr("Große Freiheit 36, Hamburg")}
		if !geocoder.Resolve(context.Background(), loc) {
			t.Fatal("resolve should succeed")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream called %d times, want 1", calls.Load())
	}
}

func TestGeocoderCachesMisses(t *testing.T) {
	var calls atomic.Int32
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode([]any{})
	})

	for i := 0; i < 3; i++ {
		loc := &models.Location{Address: models.StringPtr("Nirgendwo 99, Hamburg")}
		if geocoder.Resolve(context.Background(), loc) {
			t.Fatal("resolve should miss")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("a cached miss should not hit upstream again, got %d calls", calls.Load())
	}
}

func TestGeocoderUpstreamFailureNotNegativelyCached(t *testing.T) {
	var calls atomic.Int32
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		loc := &models.Location{Address: models.StringPtr("Irgendwo 1, Hamburg")}
		if geocoder.Resolve(context.Background(), loc) {
			t.Fatal("resolve should fail")
		}
	}
	// Transient failures must stay retryable on the next run.
	if calls.Load() != 2 {
		t.Errorf("upstream failure was cached, got %d calls", calls.Load())
	}
}

func TestGeocoderSkipsWhenNothingToQuery(t *testing.T) {
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called without a query")
	})

	loc := &models.Location{}
	if geocoder.Resolve(context.Background(), loc) {
		t.Error("empty location should not resolve")
	}
}

func TestGeocoderKeepsExistingCoordinates(t *testing.T) {
	geocoder, _ := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called when coordinates exist")
	})

	loc := &models.Location{
		Address: models.StringPtr("Platz der Deutschen Einheit 1"),
		Lat:     models.Float64Ptr(53.54),
		Lng:     models.Float64Ptr(9.98),
	}
	if !geocoder.Resolve(context.Background(), loc) {
		t.Error("existing coordinates count as resolved")
	}
	if *loc.Lat != 53.54 {
		t.Error("existing coordinates must not change")
	}
}
