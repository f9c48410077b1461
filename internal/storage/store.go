package storage

import (
	"context"
	"time"

	"hamburg-family-events-scraper/internal/models"
)

// EventStore is the sole write path into durable event storage. UpsertEvent
// must be atomic with respect to identity lookup-then-write: no two
// concurrent writers may both observe "absent" for one identity and both
// insert.
type EventStore interface {
	// UpsertEvent inserts the event if its identity is absent and reports
	// created=true, otherwise overwrites all non-identity fields in place.
	// The original source_id is retained on update unless reassignSource
	// is set.
	UpsertEvent(ctx context.Context, event *models.StoredEvent, reassignSource bool) (created bool, err error)
	GetEvent(ctx context.Context, id string) (*models.StoredEvent, error)
	ListEvents(ctx context.Context, filter ListFilter) ([]models.StoredEvent, error)
	ListEventIDs(ctx context.Context, sourceID string) ([]string, error)
	// DeleteEventsBefore removes events starting before cutoff. Retention is
	// a caller concern; the pipeline itself never deletes.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// SourceStore manages scraping source configuration.
type SourceStore interface {
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error)
	UpdateSource(ctx context.Context, source *models.Source) error
}

// ListFilter narrows ListEvents results. Zero values mean "no constraint".
type ListFilter struct {
	Region   string
	Category string
	From     time.Time
	To       time.Time
	IsIndoor *bool
	Limit    int
	Offset   int
}

// NotFoundError is returned when a record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}
