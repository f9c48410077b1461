package pipeline

import (
	"sync"
	"time"

	"hamburg-family-events-scraper/internal/models"
)

// StageTracker accumulates the per-stage counters and issue reasons of one
// pipeline run. Safe for concurrent use, though a single run only touches it
// from one goroutine.
type StageTracker struct {
	mu      sync.Mutex
	started time.Time
	report  models.RunReport
}

// NewStageTracker starts tracking a run for the given source.
func NewStageTracker(sourceID string) *StageTracker {
	return &StageTracker{
		started: time.Now(),
		report: models.RunReport{
			SourceID:     sourceID,
			IssueSummary: make(map[string]int),
		},
	}
}

// RecordDiscovery notes the adapter's output: candidate count and provenance.
func (t *StageTracker) RecordDiscovery(count int, prov models.Provenance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Found = count
	t.report.Model = prov.Model
	t.report.GroundingURLs = prov.GroundingURLs
	t.report.TokensUsed = prov.TokensUsed
}

// RecordNormalized counts a candidate that passed validation.
func (t *StageTracker) RecordNormalized() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Normalized++
}

// RecordValidationDrop counts a candidate rejected by the validator.
func (t *StageTracker) RecordValidationDrop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.DroppedValidation++
}

// RecordPersistenceDrop counts a candidate whose upsert failed.
func (t *StageTracker) RecordPersistenceDrop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.DroppedPersistence++
}

// RecordSaved counts a persisted event, classified as new or existing.
func (t *StageTracker) RecordSaved(created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Saved++
	if created {
		t.report.New++
	} else {
		t.report.Existing++
	}
}

// RecordGeocoded counts an event that received coordinates this run.
func (t *StageTracker) RecordGeocoded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Geocoded++
}

// RecordIssue adds one occurrence of reason to the issue histogram.
func (t *StageTracker) RecordIssue(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.IssueSummary[reason]++
}

// RecordIssues adds every reason in the slice.
func (t *StageTracker) RecordIssues(reasons []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, reason := range reasons {
		t.report.IssueSummary[reason]++
	}
}

// Fail marks the run as failed with the given error message.
func (t *StageTracker) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Success = false
	t.report.Error = message
}

// Summarize finalizes and returns the run report. A run counts as successful
// unless Fail was called.
func (t *StageTracker) Summarize() *models.RunReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	report := t.report
	report.Duration = time.Since(t.started)
	if report.Error == "" {
		report.Success = true
	}
	// Copy the histogram so the caller cannot race a later RecordIssue.
	report.IssueSummary = make(map[string]int, len(t.report.IssueSummary))
	for reason, count := range t.report.IssueSummary {
		report.IssueSummary[reason] = count
	}
	return &report
}
