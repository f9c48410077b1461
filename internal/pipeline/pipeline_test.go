package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"hamburg-family-events-scraper/internal/models"
	"hamburg-family-events-scraper/internal/storage"
)

// stubDiscoverer returns a fixed candidate batch, or an error.
type stubDiscoverer struct {
	candidates []models.RawCandidate
	provenance models.Provenance
	err        error
}

func (s *stubDiscoverer) Discover(ctx context.Context, source *models.Source) (*models.Discovery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Discovery{Candidates: s.candidates, Provenance: s.provenance}, nil
}

// stubResolver attaches fixed coordinates to every location it sees.
type stubResolver struct {
	lat, lng float64
	fail     bool
	calls    int
}

func (s *stubResolver) Resolve(ctx context.Context, loc *models.Location) bool {
	s.calls++
	if s.fail {
		return false
	}
	loc.Lat = models.Float64Ptr(s.lat)
	loc.Lng = models.Float64Ptr(s.lng)
	return true
}

// failingStore fails upserts for events whose title is listed; everything
// else passes through to the wrapped store.
type failingStore struct {
	storage.EventStore
	failTitles map[string]bool
}

func (f *failingStore) UpsertEvent(ctx context.Context, event *models.StoredEvent, reassignSource bool) (bool, error) {
	if f.failTitles[event.Title] {
		return false, fmt.Errorf("storage unavailable")
	}
	return f.EventStore.UpsertEvent(ctx, event, reassignSource)
}

// flakyStore passes the first upsert of a title through and fails every
// later one, so the geocode re-upsert path can be driven into failure.
type flakyStore struct {
	storage.EventStore
	title string
	calls int
}

func (f *flakyStore) UpsertEvent(ctx context.Context, event *models.StoredEvent, reassignSource bool) (bool, error) {
	if event.Title == f.title {
		f.calls++
		if f.calls > 1 {
			return false, fmt.Errorf("storage unavailable")
		}
	}
	return f.EventStore.UpsertEvent(ctx, event, reassignSource)
}

func testStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testPipeline(t *testing.T, store storage.EventStore, sources storage.SourceStore, discoverer Discoverer, geocoder CoordinateResolver) *Pipeline {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	discoverers := map[string]Discoverer{
		models.SourceKindSite:   discoverer,
		models.SourceKindSearch: discoverer,
	}
	return New(discoverers, NewNormalizer("hamburg", berlin), store, sources, geocoder, quietLogger())
}

func scenarioACandidate() models.RawCandidate {
	return models.RawCandidate{
		"title":      "Kinderkonzert",
		"date_start": "2026-02-14T11:00:00+01:00",
		"category":   "music",
		"is_indoor":  true,
		"region":     "hamburg",
	}
}

func TestRunScenarioANewEvent(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{scenarioACandidate()}}
	pipe := testPipeline(t, store, store, discoverer, nil)

	report, saved := pipe.Run(context.Background(), source)
	if !report.Success {
		t.Fatalf("run failed: %s", report.Error)
	}
	if report.Found != 1 || report.Normalized != 1 || report.Saved != 1 || report.New != 1 {
		t.Errorf("counts wrong: %+v", report)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved event, got %d", len(saved))
	}

	start := time.Date(2026, 2, 14, 11, 0, 0, 0, time.FixedZone("CET", 3600))
	wantID := models.EventID("Kinderkonzert", start, nil)
	if saved[0].ID != wantID {
		t.Errorf("id = %s, want %s", saved[0].ID, wantID)
	}
	if saved[0].SourceID != source.ID {
		t.Errorf("source id = %s, want %s", saved[0].SourceID, source.ID)
	}

	// The source bookkeeping reflects the successful run.
	updated, err := store.GetSource(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("failed to reload source: %v", err)
	}
	if updated.Status != models.SourceStatusActive || updated.LastScraped == nil {
		t.Errorf("source status not updated: %+v", updated)
	}
}

func TestRunScenarioBResubmissionUpdates(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{scenarioACandidate()}}
	pipe := testPipeline(t, store, store, discoverer, nil)

	first, _ := pipe.Run(context.Background(), source)
	if first.New != 1 {
		t.Fatalf("first run should create the event: %+v", first)
	}

	// Same title/date/location, different description.
	resubmission := scenarioACandidate()
	resubmission["description"] = "Jetzt mit neuer Beschreibung"
	discoverer.candidates = []models.RawCandidate{resubmission}

	second, saved := pipe.Run(context.Background(), source)
	if second.New != 0 || second.Existing != 1 {
		t.Errorf("second run should classify as existing: new=%d existing=%d", second.New, second.Existing)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved event, got %d", len(saved))
	}

	stored, err := store.GetEvent(context.Background(), saved[0].ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if stored.Description == nil || *stored.Description != "Jetzt mit neuer Beschreibung" {
		t.Errorf("description not updated: %v", stored.Description)
	}
}

func TestRunScenarioCMixedBatch(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	var candidates []models.RawCandidate
	for i := 0; i < 7; i++ {
		c := scenarioACandidate()
		c["title"] = fmt.Sprintf("Veranstaltung %d", i)
		candidates = append(candidates, c)
	}
	noTitle := scenarioACandidate()
	delete(noTitle, "title")
	badDate := scenarioACandidate()
	badDate["title"] = "Kaputtes Datum"
	badDate["date_start"] = "irgendwann"
	storageVictim := scenarioACandidate()
	storageVictim["title"] = "Speicherfehler"
	candidates = append(candidates, noTitle, badDate, storageVictim)

	failStore := &failingStore{EventStore: store, failTitles: map[string]bool{"Speicherfehler": true}}
	discoverer := &stubDiscoverer{candidates: candidates}
	pipe := testPipeline(t, failStore, store, discoverer, nil)

	report, saved := pipe.Run(context.Background(), source)
	if !report.Success {
		t.Fatalf("partial failures must not fail the run: %s", report.Error)
	}
	if report.Found != 10 || report.Normalized != 8 || report.Saved != 7 {
		t.Errorf("counts wrong: found=%d normalized=%d saved=%d", report.Found, report.Normalized, report.Saved)
	}
	if report.DroppedValidation != 2 || report.DroppedPersistence != 1 {
		t.Errorf("drops wrong: validation=%d persistence=%d", report.DroppedValidation, report.DroppedPersistence)
	}
	if len(saved) != 7 {
		t.Errorf("expected 7 saved events, got %d", len(saved))
	}
	if report.IssueSummary[IssueMissingTitle] != 1 || report.IssueSummary[IssueUnparseableDate] != 1 {
		t.Errorf("issue histogram wrong: %v", report.IssueSummary)
	}
	if report.IssueSummary[IssuePersistenceFailed] != 1 {
		t.Errorf("persistence failure not recorded: %v", report.IssueSummary)
	}
}

func TestRunGeocodesMissingCoordinates(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	candidate := scenarioACandidate()
	candidate["location_name"] = "Elbphilharmonie"
	candidate["location_address"] = "Platz der Deutschen Einheit 1, 20457 Hamburg"

	resolver := &stubResolver{lat: 53.541, lng: 9.984}
	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{candidate}}
	pipe := testPipeline(t, store, store, discoverer, resolver)

	report, saved := pipe.Run(context.Background(), source)
	if report.Geocoded != 1 {
		t.Errorf("geocoded = %d, want 1", report.Geocoded)
	}
	if len(saved) != 1 || !saved[0].Location.HasCoordinates() {
		t.Fatal("saved event should carry resolved coordinates")
	}

	stored, err := store.GetEvent(context.Background(), saved[0].ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if !stored.Location.HasCoordinates() {
		t.Error("resolved coordinates were not persisted")
	}
}

func TestRunGeocodingFailureIsTolerated(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	candidate := scenarioACandidate()
	candidate["location_address"] = "Irgendwo 1, Hamburg"

	resolver := &stubResolver{fail: true}
	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{candidate}}
	pipe := testPipeline(t, store, store, discoverer, resolver)

	report, saved := pipe.Run(context.Background(), source)
	if !report.Success {
		t.Fatalf("geocoding failure must not fail the run: %s", report.Error)
	}
	if report.Saved != 1 || report.Geocoded != 0 {
		t.Errorf("saved=%d geocoded=%d, want 1 and 0", report.Saved, report.Geocoded)
	}
	if len(saved) != 1 || saved[0].Location.HasCoordinates() {
		t.Error("event should be saved without coordinates")
	}
}

func TestRunGeocodePersistFailureDropsCoordinates(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	candidate := scenarioACandidate()
	candidate["location_address"] = "Platz der Deutschen Einheit 1, 20457 Hamburg"

	resolver := &stubResolver{lat: 53.541, lng: 9.984}
	flaky := &flakyStore{EventStore: store, title: "Kinderkonzert"}
	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{candidate}}
	pipe := testPipeline(t, flaky, store, discoverer, resolver)

	report, saved := pipe.Run(context.Background(), source)
	if !report.Success {
		t.Fatalf("geocode persist failure must not fail the run: %s", report.Error)
	}
	if report.Saved != 1 || report.Geocoded != 0 {
		t.Errorf("saved=%d geocoded=%d, want 1 and 0", report.Saved, report.Geocoded)
	}
	if report.IssueSummary[IssueGeocodePersistFailed] != 1 {
		t.Errorf("persist failure not recorded: %v", report.IssueSummary)
	}
	// The returned event must mirror durable state, not the lost write.
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved event, got %d", len(saved))
	}
	if saved[0].Location.HasCoordinates() {
		t.Error("unpersisted coordinates leaked into the saved slice")
	}
	stored, err := store.GetEvent(context.Background(), saved[0].ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if stored.Location.HasCoordinates() {
		t.Error("stored record should have no coordinates")
	}
}

func TestRunSkipsGeocoderWhenCoordinatesPresent(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	candidate := scenarioACandidate()
	candidate["location_name"] = "Stadtpark"
	candidate["location_lat"] = 53.596
	candidate["location_lng"] = 10.018

	resolver := &stubResolver{lat: 0, lng: 0}
	discoverer := &stubDiscoverer{candidates: []models.RawCandidate{candidate}}
	pipe := testPipeline(t, store, store, discoverer, resolver)

	pipe.Run(context.Background(), source)
	if resolver.calls != 0 {
		t.Errorf("geocoder called %d times for an event with coordinates", resolver.calls)
	}
}

func TestRunDiscoveryFailure(t *testing.T) {
	store := testStore(t)
	source := models.NewSource("Testquelle", "https://example.org", "hamburg")
	if err := store.CreateSource(context.Background(), source); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	discoverer := &stubDiscoverer{err: fmt.Errorf("no target page found")}
	pipe := testPipeline(t, store, store, discoverer, nil)

	report, saved := pipe.Run(context.Background(), source)
	if report.Success {
		t.Error("discovery failure should fail the run")
	}
	if report.Found != 0 || len(saved) != 0 {
		t.Errorf("failed discovery must yield zero candidates: found=%d saved=%d", report.Found, len(saved))
	}
	if report.IssueSummary[IssueDiscoveryFailed] != 1 {
		t.Errorf("discovery failure not recorded: %v", report.IssueSummary)
	}

	updated, err := store.GetSource(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("failed to reload source: %v", err)
	}
	if updated.Status != models.SourceStatusError || updated.LastError == "" {
		t.Errorf("source error status not recorded: %+v", updated)
	}
}
