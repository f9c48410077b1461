package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver (pure Go)

	"hamburg-family-events-scraper/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  kind         TEXT NOT NULL DEFAULT 'site',
  input_url    TEXT NOT NULL,
  query        TEXT,
  target_url   TEXT,
  is_active    INTEGER NOT NULL DEFAULT 1,
  status       TEXT NOT NULL DEFAULT 'pending',
  strategy     TEXT NOT NULL DEFAULT 'weekly',
  region       TEXT NOT NULL DEFAULT 'hamburg',
  last_scraped TEXT,
  last_error   TEXT,
  created_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS events (
  id                TEXT PRIMARY KEY,
  source_id         TEXT REFERENCES sources(id),
  title             TEXT NOT NULL,
  description       TEXT,
  date_start        TEXT NOT NULL,
  date_end          TEXT,
  location_name     TEXT,
  location_address  TEXT,
  location_district TEXT,
  location_lat      REAL,
  location_lng      REAL,
  category          TEXT NOT NULL,
  is_indoor         INTEGER NOT NULL,
  age_suitability   TEXT,
  price_info        TEXT,
  original_link     TEXT,
  region            TEXT NOT NULL DEFAULT 'hamburg',
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_region_date ON events(region, date_start);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(region, category, date_start);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);
`

// SQLiteStore implements EventStore and SourceStore on a local SQLite file.
// Transactions are opened IMMEDIATE, so the database write lock serializes
// upserts per identity.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary initializes) the database at path.
// Use ":memory:" for an ephemeral instance.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// In-memory databases vanish when their sole connection closes.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertEvent implements the identity-keyed create-or-update contract.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, event *models.StoredEvent, reassignSource bool) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingSourceID sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT source_id FROM events WHERE id = ?", event.ID).Scan(&existingSourceID)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (
				id, source_id, title, description, date_start, date_end,
				location_name, location_address, location_district,
				location_lat, location_lng, category, is_indoor,
				age_suitability, price_info, original_link, region,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.SourceID, event.Title, event.Description,
			formatTime(event.DateStart), formatTimePtr(event.DateEnd),
			event.Location.Name, event.Location.Address, event.Location.District,
			event.Location.Lat, event.Location.Lng,
			event.Category, boolToInt(event.IsIndoor),
			event.AgeSuitability, event.PriceInfo, event.OriginalLink,
			event.Region, now, now,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert event %s: %w", event.ID, err)
		}
		if err = tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit event insert: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up event %s: %w", event.ID, err)
	}

	sourceID := existingSourceID.String
	if reassignSource {
		sourceID = event.SourceID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE events SET
			source_id = ?, title = ?, description = ?,
			date_start = ?, date_end = ?,
			location_name = ?, location_address = ?, location_district = ?,
			location_lat = ?, location_lng = ?,
			category = ?, is_indoor = ?, age_suitability = ?,
			price_info = ?, original_link = ?, region = ?,
			updated_at = ?
		WHERE id = ?`,
		sourceID, event.Title, event.Description,
		formatTime(event.DateStart), formatTimePtr(event.DateEnd),
		event.Location.Name, event.Location.Address, event.Location.District,
		event.Location.Lat, event.Location.Lng,
		event.Category, boolToInt(event.IsIndoor),
		event.AgeSuitability, event.PriceInfo, event.OriginalLink,
		event.Region, now, event.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update event %s: %w", event.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit event update: %w", err)
	}
	event.SourceID = sourceID
	return false, nil
}

// GetEvent retrieves a stored event by identity.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*models.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, eventSelect+" WHERE id = ?", id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "event", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return event, nil
}

// ListEvents returns events matching the filter, ordered by start date.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter ListFilter) ([]models.StoredEvent, error) {
	query := eventSelect + " WHERE 1=1"
	var args []any

	if filter.Region != "" {
		query += " AND region = ?"
		args = append(args, filter.Region)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if !filter.From.IsZero() {
		query += " AND date_start >= ?"
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		query += " AND date_start <= ?"
		args = append(args, formatTime(filter.To))
	}
	if filter.IsIndoor != nil {
		query += " AND is_indoor = ?"
		args = append(args, boolToInt(*filter.IsIndoor))
	}
	query += " ORDER BY date_start ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.StoredEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// ListEventIDs returns all stored identities, optionally scoped to a source.
func (s *SQLiteStore) ListEventIDs(ctx context.Context, sourceID string) ([]string, error) {
	query := "SELECT id FROM events"
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEventsBefore removes events starting before cutoff and reports how
// many were deleted.
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE date_start < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}

// CreateSource stores a new source.
func (s *SQLiteStore) CreateSource(ctx context.Context, source *models.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, kind, input_url, query, target_url, is_active, status, strategy, region, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		source.ID, source.Name, source.Kind, source.InputURL,
		nullIfEmpty(source.Query), nullIfEmpty(source.TargetURL), boolToInt(source.IsActive),
		source.Status, source.Strategy, source.Region, nullIfEmpty(source.LastError),
	)
	if err != nil {
		return fmt.Errorf("failed to create source %s: %w", source.ID, err)
	}
	return nil
}

// GetSource retrieves a source by ID.
func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx, sourceSelect+" WHERE id = ?", id)
	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "source", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return source, nil
}

// ListSources returns sources ordered by name.
func (s *SQLiteStore) ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error) {
	query := sourceSelect
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}
	return sources, rows.Err()
}

// UpdateSource overwrites a source's mutable fields.
func (s *SQLiteStore) UpdateSource(ctx context.Context, source *models.Source) error {
	var lastScraped any
	if source.LastScraped != nil {
		lastScraped = formatTime(*source.LastScraped)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET
			name = ?, kind = ?, input_url = ?, query = ?, target_url = ?, is_active = ?,
			status = ?, strategy = ?, region = ?, last_scraped = ?, last_error = ?
		WHERE id = ?`,
		source.Name, source.Kind, source.InputURL, nullIfEmpty(source.Query),
		nullIfEmpty(source.TargetURL), boolToInt(source.IsActive),
		source.Status, source.Strategy, source.Region,
		lastScraped, nullIfEmpty(source.LastError), source.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", source.ID, err)
	}
	return nil
}

const eventSelect = `SELECT id, source_id, title, description, date_start, date_end,
	location_name, location_address, location_district, location_lat, location_lng,
	category, is_indoor, age_suitability, price_info, original_link, region,
	created_at, updated_at FROM events`

const sourceSelect = `SELECT id, name, kind, input_url, query, target_url, is_active,
	status, strategy, region, last_scraped, last_error FROM sources`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.StoredEvent, error) {
	var (
		event                      models.StoredEvent
		sourceID                   sql.NullString
		dateStart                  string
		dateEnd                    sql.NullString
		locName, locAddr, locDist  sql.NullString
		lat, lng                   sql.NullFloat64
		isIndoor                   int
		age, price, link           sql.NullString
		description                sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(
		&event.ID, &sourceID, &event.Title, &description, &dateStart, &dateEnd,
		&locName, &locAddr, &locDist, &lat, &lng,
		&event.Category, &isIndoor, &age, &price, &link, &event.Region,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.SourceID = sourceID.String
	event.Description = nullableString(description)
	event.DateStart, err = parseTime(dateStart)
	if err != nil {
		return nil, fmt.Errorf("invalid date_start %q: %w", dateStart, err)
	}
	if dateEnd.Valid {
		t, err := parseTime(dateEnd.String)
		if err != nil {
			return nil, fmt.Errorf("invalid date_end %q: %w", dateEnd.String, err)
		}
		event.DateEnd = &t
	}
	event.Location = models.Location{
		Name:     nullableString(locName),
		Address:  nullableString(locAddr),
		District: nullableString(locDist),
	}
	if lat.Valid && lng.Valid {
		event.Location.Lat = &lat.Float64
		event.Location.Lng = &lng.Float64
	}
	event.IsIndoor = isIndoor == 1
	event.AgeSuitability = nullableString(age)
	event.PriceInfo = nullableString(price)
	event.OriginalLink = nullableString(link)
	if t, err := parseTime(createdAt); err == nil {
		event.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		event.UpdatedAt = t
	}
	return &event, nil
}

func scanSource(row rowScanner) (*models.Source, error) {
	var (
		source      models.Source
		query       sql.NullString
		targetURL   sql.NullString
		isActive    int
		lastScraped sql.NullString
		lastError   sql.NullString
	)
	err := row.Scan(
		&source.ID, &source.Name, &source.Kind, &source.InputURL, &query,
		&targetURL, &isActive, &source.Status, &source.Strategy, &source.Region,
		&lastScraped, &lastError,
	)
	if err != nil {
		return nil, err
	}
	source.Query = query.String
	source.TargetURL = targetURL.String
	source.IsActive = isActive == 1
	source.LastError = lastError.String
	if lastScraped.Valid {
		if t, err := parseTime(lastScraped.String); err == nil {
			source.LastScraped = &t
		}
	}
	return &source, nil
}

// formatTime stores timestamps as UTC RFC3339 so lexicographic comparison in
// SQL matches chronological order regardless of source offsets.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
