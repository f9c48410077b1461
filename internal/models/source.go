package models

import (
	"time"

	"github.com/google/uuid"
)

// Source status constants
const (
	SourceStatusPending = "pending"
	SourceStatusActive  = "active"
	SourceStatusError   = "error"
)

// Source kind constants. A site source is scraped from its website; a search
// source is fed by the grounded-search discovery call.
const (
	SourceKindSite   = "site"
	SourceKindSearch = "search"
)

// Scraping strategy constants
const (
	StrategyWeekly  = "weekly"
	StrategyMonthly = "monthly"
)

// Source is a configured producer of candidate events.
type Source struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	InputURL    string     `json:"input_url"`
	Query       string     `json:"query,omitempty"`
	TargetURL   string     `json:"target_url,omitempty"`
	IsActive    bool       `json:"is_active"`
	Status      string     `json:"status"`
	Strategy    string     `json:"strategy"`
	Region      string     `json:"region"`
	LastScraped *time.Time `json:"last_scraped,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// NewSource creates a pending site source with a fresh UUID.
func NewSource(name, inputURL, region string) *Source {
	if region == "" {
		region = DefaultRegion
	}
	return &Source{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     SourceKindSite,
		InputURL: inputURL,
		IsActive: true,
		Status:   SourceStatusPending,
		Strategy: StrategyWeekly,
		Region:   region,
	}
}

// NewSearchSource creates a pending search source fed by a grounded
// natural-language query instead of a website.
func NewSearchSource(name, query, region string) *Source {
	source := NewSource(name, "", region)
	source.Kind = SourceKindSearch
	source.Query = query
	return source
}

// Discovery is the output of one source adapter call: the raw candidates it
// produced plus provenance about how they were obtained.
type Discovery struct {
	Candidates []RawCandidate
	Provenance Provenance
}

// Provenance records where a batch of candidates came from. GroundingURLs is
// populated only by the grounded-search adapter and is never merged into
// persisted event fields.
type Provenance struct {
	Model         string
	TargetURL     string
	GroundingURLs []string
	TokensUsed    int
}
