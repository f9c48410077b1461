package models

import "time"

// RunReport summarizes one pipeline execution. It is the run's sole output
// artifact alongside the saved events and is not persisted by the pipeline.
type RunReport struct {
	SourceID string `json:"source_id"`
	Model    string `json:"model,omitempty"`
	Success  bool   `json:"success"`

	Found              int `json:"events_found"`
	Normalized         int `json:"events_normalized"`
	DroppedValidation  int `json:"events_dropped_validation"`
	DroppedPersistence int `json:"events_dropped_persistence"`
	Saved              int `json:"events_saved"`
	New                int `json:"events_new"`
	Existing           int `json:"events_existing"`
	Geocoded           int `json:"events_geocoded"`

	// IssueSummary is a histogram of recorded issue reasons, fatal and
	// non-fatal alike.
	IssueSummary map[string]int `json:"issue_summary"`

	// GroundingURLs lists the pages a grounded-search run drew from.
	// Empty for site runs.
	GroundingURLs []string `json:"grounding_urls,omitempty"`

	TokensUsed int           `json:"tokens_used"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error_message,omitempty"`
}
