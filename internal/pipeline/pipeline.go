package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hamburg-family-events-scraper/internal/models"
	"hamburg-family-events-scraper/internal/storage"
)

// Discoverer produces raw event candidates for a source. Implemented by the
// site pipeline and the grounded-search adapter.
type Discoverer interface {
	Discover(ctx context.Context, source *models.Source) (*models.Discovery, error)
}

// CoordinateResolver attaches coordinates to a location that lacks them.
// Best effort; it reports whether coordinates were attached.
type CoordinateResolver interface {
	Resolve(ctx context.Context, loc *models.Location) bool
}

// Pipeline executes one run: discover candidates, normalize them, assign
// identities, upsert, and geocode what was saved without coordinates. Every
// partial failure degrades to fewer saved events plus an accurate report;
// only the discovery stage can fail a run outright.
type Pipeline struct {
	discoverers map[string]Discoverer
	normalizer  *Normalizer
	events      storage.EventStore
	sources     storage.SourceStore
	geocoder    CoordinateResolver
	log         *logrus.Logger
}

// New creates a pipeline. discoverers maps source kinds to their adapter.
// geocoder may be nil to disable coordinate resolution; sources may be nil
// when no source bookkeeping is wanted (tests, one-off runs).
func New(discoverers map[string]Discoverer, normalizer *Normalizer, events storage.EventStore, sources storage.SourceStore, geocoder CoordinateResolver, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		discoverers: discoverers,
		normalizer:  normalizer,
		events:      events,
		sources:     sources,
		geocoder:    geocoder,
		log:         log,
	}
}

// Run executes the pipeline for one source. It always returns a report; the
// saved slice holds every event persisted this run, in candidate order.
func (p *Pipeline) Run(ctx context.Context, source *models.Source) (*models.RunReport, []models.StoredEvent) {
	tracker := NewStageTracker(source.ID)
	log := p.log.WithFields(logrus.Fields{"source": source.Name, "kind": source.Kind})

	discoverer, ok := p.discoverers[source.Kind]
	if !ok {
		tracker.RecordIssue(IssueDiscoveryFailed)
		tracker.Fail(fmt.Sprintf("no adapter for source kind %q", source.Kind))
		p.recordSourceOutcome(ctx, source, fmt.Sprintf("no adapter for kind %q", source.Kind))
		return tracker.Summarize(), nil
	}

	discovery, err := discoverer.Discover(ctx, source)
	if err != nil {
		log.WithError(err).Error("discovery failed")
		tracker.RecordIssue(IssueDiscoveryFailed)
		tracker.Fail(err.Error())
		p.recordSourceOutcome(ctx, source, err.Error())
		return tracker.Summarize(), nil
	}
	tracker.RecordDiscovery(len(discovery.Candidates), discovery.Provenance)

	var saved []models.StoredEvent
	for _, candidate := range discovery.Candidates {
		result := p.normalizer.Normalize(candidate)
		tracker.RecordIssues(result.Issues)
		if result.Dropped() {
			tracker.RecordValidationDrop()
			log.WithField("reason", result.DropReason).Debug("candidate dropped")
			continue
		}
		tracker.RecordNormalized()

		event := result.Event
		stored := models.StoredEvent{
			ID:       models.IdentityOf(event),
			SourceID: source.ID,
			Event:    *event,
		}

		created, err := p.events.UpsertEvent(ctx, &stored, false)
		if err != nil {
			log.WithError(err).WithField("id", stored.ID).Warn("upsert failed")
			tracker.RecordIssue(IssuePersistenceFailed)
			tracker.RecordPersistenceDrop()
			continue
		}
		tracker.RecordSaved(created)

		if p.geocoder != nil && !stored.Location.HasCoordinates() {
			if p.geocoder.Resolve(ctx, &stored.Location) {
				if _, err := p.events.UpsertEvent(ctx, &stored, false); err != nil {
					log.WithError(err).WithField("id", stored.ID).
						Warn("failed to persist geocoded coordinates")
					tracker.RecordIssue(IssueGeocodePersistFailed)
					// The saved slice must mirror durable state; the
					// coordinates never reached storage.
					stored.Location.Lat = nil
					stored.Location.Lng = nil
				} else {
					tracker.RecordGeocoded()
				}
			}
		}
		saved = append(saved, stored)
	}

	p.recordSourceOutcome(ctx, source, "")
	report := tracker.Summarize()
	log.WithFields(logrus.Fields{
		"found":    report.Found,
		"saved":    report.Saved,
		"new":      report.New,
		"existing": report.Existing,
		"dropped":  report.DroppedValidation + report.DroppedPersistence,
		"duration": report.Duration.Round(time.Millisecond),
	}).Info("pipeline run completed")
	return report, saved
}

// recordSourceOutcome updates the source's status bookkeeping after a run.
// Best effort; a failed update only logs.
func (p *Pipeline) recordSourceOutcome(ctx context.Context, source *models.Source, errMessage string) {
	if p.sources == nil {
		return
	}
	now := time.Now()
	source.LastScraped = &now
	if errMessage != "" {
		source.Status = models.SourceStatusError
		source.LastError = errMessage
	} else {
		source.Status = models.SourceStatusActive
		source.LastError = ""
	}
	if err := p.sources.UpdateSource(ctx, source); err != nil {
		p.log.WithError(err).WithField("source", source.Name).
			Warn("failed to update source status")
	}
}
