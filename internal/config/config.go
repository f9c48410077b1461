package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries all runtime settings. It is materialized once at startup
// from environment variables (with defaults) and injected into components.
type Config struct {
	Region   string
	Timezone string

	// Storage
	StorageBackend string // "sqlite" or "dynamodb"
	DatabasePath   string
	DynamoTable    string
	SnapshotBucket string
	SnapshotKey    string

	// Language models
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string

	// Grounded search defaults
	SearchDaysAhead int
	SearchLimit     int

	// Geocoding
	GeocodingEnabled bool
	GeocodeCachePath string
	GeocodeCacheSize int
	GeocodeMinDelay  time.Duration
	GeocodeTimeout   time.Duration
	GeocodeUserAgent string

	// Concurrency and retries
	MaxConcurrentRuns int
	FetchTimeout      time.Duration
	LLMTimeout        time.Duration
	MaxRetries        int
}

// Load reads configuration from the environment. Variable names follow the
// original deployment (OPENAI_API_KEY, GEMINI_API_KEY, DATABASE_PATH, ...).
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("REGION", "hamburg")
	v.SetDefault("TIMEZONE", "Europe/Berlin")
	v.SetDefault("STORAGE_BACKEND", "sqlite")
	v.SetDefault("DATABASE_PATH", "data/events.db")
	v.SetDefault("DYNAMODB_TABLE", "family-events")
	v.SetDefault("SNAPSHOT_BUCKET", "")
	v.SetDefault("SNAPSHOT_KEY", "events/latest.json")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("GEMINI_MODEL", "gemini-3-flash-preview")
	v.SetDefault("SEARCH_DAYS_AHEAD", 14)
	v.SetDefault("SEARCH_LIMIT", 30)
	v.SetDefault("GEOCODING_ENABLED", true)
	v.SetDefault("GEOCODE_CACHE_PATH", "data/geocode_cache.json")
	v.SetDefault("GEOCODE_CACHE_SIZE", 2048)
	v.SetDefault("GEOCODING_MIN_DELAY_MS", 1100)
	v.SetDefault("GEOCODING_TIMEOUT_SECONDS", 10)
	v.SetDefault("GEOCODING_USER_AGENT", "family-events-scraper/1.0")
	v.SetDefault("MAX_CONCURRENT_RUNS", 3)
	v.SetDefault("FETCH_TIMEOUT_SECONDS", 45)
	v.SetDefault("LLM_TIMEOUT_SECONDS", 90)
	v.SetDefault("MAX_RETRIES", 2)

	return &Config{
		Region:            v.GetString("REGION"),
		Timezone:          v.GetString("TIMEZONE"),
		StorageBackend:    v.GetString("STORAGE_BACKEND"),
		DatabasePath:      v.GetString("DATABASE_PATH"),
		DynamoTable:       v.GetString("DYNAMODB_TABLE"),
		SnapshotBucket:    v.GetString("SNAPSHOT_BUCKET"),
		SnapshotKey:       v.GetString("SNAPSHOT_KEY"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		OpenAIModel:       v.GetString("OPENAI_MODEL"),
		GeminiAPIKey:      v.GetString("GEMINI_API_KEY"),
		GeminiModel:       v.GetString("GEMINI_MODEL"),
		SearchDaysAhead:   v.GetInt("SEARCH_DAYS_AHEAD"),
		SearchLimit:       v.GetInt("SEARCH_LIMIT"),
		GeocodingEnabled:  v.GetBool("GEOCODING_ENABLED"),
		GeocodeCachePath:  v.GetString("GEOCODE_CACHE_PATH"),
		GeocodeCacheSize:  v.GetInt("GEOCODE_CACHE_SIZE"),
		GeocodeMinDelay:   time.Duration(v.GetInt("GEOCODING_MIN_DELAY_MS")) * time.Millisecond,
		GeocodeTimeout:    time.Duration(v.GetInt("GEOCODING_TIMEOUT_SECONDS")) * time.Second,
		GeocodeUserAgent:  v.GetString("GEOCODING_USER_AGENT"),
		MaxConcurrentRuns: v.GetInt("MAX_CONCURRENT_RUNS"),
		FetchTimeout:      time.Duration(v.GetInt("FETCH_TIMEOUT_SECONDS")) * time.Second,
		LLMTimeout:        time.Duration(v.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
		MaxRetries:        v.GetInt("MAX_RETRIES"),
	}
}
