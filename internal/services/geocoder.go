package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hamburg-family-events-scraper/internal/models"
	"hamburg-family-events-scraper/internal/storage"
)

const defaultNominatimEndpoint = "https://nominatim.openstreetmap.org"

// Geocoder resolves venue coordinates through Nominatim, strictly best
// effort: failures never block persistence, and both hits and misses are
// cached so repeated venues cost nothing.
type Geocoder struct {
	httpClient *http.Client
	endpoint   string
	userAgent  string
	region     string
	cache      *storage.GeoCache
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewGeocoder creates a geocoder for the region. minDelay is the pause
// enforced between upstream requests; Nominatim's usage policy asks for at
// least one second.
func NewGeocoder(region, userAgent string, cache *storage.GeoCache, minDelay, timeout time.Duration, log *logrus.Logger) *Geocoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if minDelay <= 0 {
		minDelay = 1100 * time.Millisecond
	}
	return &Geocoder{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   defaultNominatimEndpoint,
		userAgent:  userAgent,
		region:     region,
		cache:      cache,
		limiter:    rate.NewLimiter(rate.Every(minDelay), 1),
		log:        log,
	}
}

// SetEndpoint overrides the Nominatim base URL.
func (g *Geocoder) SetEndpoint(endpoint string) {
	g.endpoint = strings.TrimRight(endpoint, "/")
}

// Resolve fills in the location's coordinates when they are missing. It
// reports whether coordinates were attached and never returns an error;
// upstream failures are logged and treated as a miss without negative
// caching, so a later run can retry.
func (g *Geocoder) Resolve(ctx context.Context, loc *models.Location) bool {
	if loc == nil {
		return false
	}
	if loc.HasCoordinates() {
		return true
	}

	query := g.buildQuery(loc)
	if query == "" {
		return false
	}
	key := storage.NormalizeGeoKey(query)

	if cached, ok := g.cache.Lookup(key); ok {
		if cached.Miss {
			return false
		}
		loc.Lat = models.Float64Ptr(cached.Lat)
		loc.Lng = models.Float64Ptr(cached.Lng)
		return true
	}

	lat, lng, found, err := g.lookup(ctx, query)
	if err != nil {
		g.log.WithFields(logrus.Fields{"query": query, "error": err}).
			Warn("geocoding lookup failed")
		return false
	}
	if !found {
		g.cache.StoreMiss(key)
		return false
	}

	g.cache.Store(key, lat, lng)
	loc.Lat = models.Float64Ptr(lat)
	loc.Lng = models.Float64Ptr(lng)
	return true
}

// buildQuery prefers the street address and falls back to the venue name,
// suffixing the region so Nominatim does not wander off to a same-named
// venue elsewhere.
func (g *Geocoder) buildQuery(loc *models.Location) string {
	var base string
	switch {
	case loc.Address != nil && strings.TrimSpace(*loc.Address) != "":
		base = strings.TrimSpace(*loc.Address)
	case loc.Name != nil && strings.TrimSpace(*loc.Name) != "":
		base = strings.TrimSpace(*loc.Name)
		if loc.District != nil && strings.TrimSpace(*loc.District) != "" {
			base += ", " + strings.TrimSpace(*loc.District)
		}
	default:
		return ""
	}

	region := titleCase(g.region)
	if !strings.Contains(strings.ToLower(base), g.region) {
		base += ", " + region
	}
	return base + ", Germany"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (g *Geocoder) lookup(ctx context.Context, query string) (lat, lng float64, found bool, err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, false, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("countrycodes", "de")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/search?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to create geocoding request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, 0, false, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, false, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return 0, 0, false, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, false, nil
	}

	lat, err = strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lng, err = strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}
	return lat, lng, true, nil
}
