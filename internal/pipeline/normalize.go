package pipeline

import (
	"net/url"
	"strings"
	"time"

	"hamburg-family-events-scraper/internal/models"
)

// Issue reason codes. Fatal reasons drop the candidate; non-fatal ones are
// recorded while the candidate proceeds.
const (
	IssueMissingTitle          = "missing_title"
	IssueUnparseableDate       = "unparseable_date"
	IssueDateEndBeforeStart    = "date_end_before_start"
	IssueCategoryCoerced       = "category_coerced"
	IssueMissingIndoorFlag     = "missing_indoor_flag"
	IssueInvalidLinkCleared    = "invalid_link_cleared"
	IssueIncompleteCoordinates = "incomplete_coordinates"

	IssueDiscoveryFailed      = "discovery_failed"
	IssueExtractionFailed     = "extraction_failed"
	IssuePersistenceFailed    = "persistence_failed"
	IssueGeocodingFailed      = "geocoding_failed"
	IssueGeocodePersistFailed = "geocode_persist_failed"
)

// placeholderTokens are source-side stand-ins for "unknown" that must not
// survive into visible text fields.
var placeholderTokens = map[string]bool{
	"unbekannt": true,
	"unknown":   true,
	"k.a.":      true,
	"ka":        true,
	"n/a":       true,
	"none":      true,
	"tbd":       true,
}

// candidateDateFormats are the timestamp layouts accepted for date_start and
// date_end. Layouts without a zone are interpreted in the pipeline timezone.
var candidateDateFormats = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339, false},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02 15:04", true},
	{"2006-01-02", true},
}

// Result is the outcome of normalizing one candidate. Either Event is set, or
// DropReason names the fatal rule that rejected it. Issues carries every
// recorded reason, fatal and non-fatal alike.
type Result struct {
	Event      *models.Event
	DropReason string
	Issues     []string
}

// Dropped reports whether the candidate was rejected.
func (r Result) Dropped() bool {
	return r.Event == nil
}

// Normalizer validates raw candidates against the event schema and produces
// normalized events. It is pure computation; the same candidate always yields
// the same result.
type Normalizer struct {
	region   string
	timezone *time.Location
}

// NewNormalizer creates a normalizer with the default region applied to
// candidates that leave region blank and the timezone used to localize naive
// timestamps.
func NewNormalizer(region string, timezone *time.Location) *Normalizer {
	if region == "" {
		region = models.DefaultRegion
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &Normalizer{region: region, timezone: timezone}
}

// Normalize validates one candidate. Rules run in a fixed order and
// short-circuit on the first fatal failure.
func (n *Normalizer) Normalize(candidate models.RawCandidate) Result {
	var result Result
	fail := func(reason string) Result {
		result.DropReason = reason
		result.Issues = append(result.Issues, reason)
		return result
	}

	title := strings.TrimSpace(stringField(candidate, "title"))
	if title == "" {
		return fail(IssueMissingTitle)
	}

	dateStart, ok := n.parseTimestamp(stringField(candidate, "date_start"))
	if !ok {
		return fail(IssueUnparseableDate)
	}

	var dateEnd *time.Time
	if raw := strings.TrimSpace(stringField(candidate, "date_end")); raw != "" {
		switch parsed, ok := n.parseTimestamp(raw); {
		case !ok:
			result.Issues = append(result.Issues, IssueDateEndBeforeStart)
		case parsed.Before(dateStart):
			result.Issues = append(result.Issues, IssueDateEndBeforeStart)
		default:
			dateEnd = &parsed
		}
	}

	category := strings.ToLower(strings.TrimSpace(stringField(candidate, "category")))
	if !models.ValidCategory(category) {
		category = models.DefaultCategory
		result.Issues = append(result.Issues, IssueCategoryCoerced)
	}

	isIndoor, ok := boolField(candidate, "is_indoor")
	if !ok {
		return fail(IssueMissingIndoorFlag)
	}

	region := strings.TrimSpace(stringField(candidate, "region"))
	if region == "" {
		region = n.region
	}

	originalLink := scrubText(stringField(candidate, "original_link"))
	if originalLink != nil && !validAbsoluteURL(*originalLink) {
		originalLink = nil
		result.Issues = append(result.Issues, IssueInvalidLinkCleared)
	}

	location := models.Location{
		Name:     scrubText(stringField(candidate, "location_name")),
		Address:  scrubText(stringField(candidate, "location_address")),
		District: scrubText(stringField(candidate, "location_district")),
	}
	lat, latOK := floatField(candidate, "location_lat")
	lng, lngOK := floatField(candidate, "location_lng")
	switch {
	case latOK && lngOK:
		location.Lat = models.Float64Ptr(lat)
		location.Lng = models.Float64Ptr(lng)
	case latOK || lngOK:
		// A lone coordinate is useless; keep the pair absent.
		result.Issues = append(result.Issues, IssueIncompleteCoordinates)
	}

	result.Event = &models.Event{
		Title:          title,
		Description:    scrubText(stringField(candidate, "description")),
		DateStart:      dateStart,
		DateEnd:        dateEnd,
		Location:       location,
		Category:       category,
		IsIndoor:       isIndoor,
		AgeSuitability: scrubText(stringField(candidate, "age_suitability")),
		PriceInfo:      scrubText(stringField(candidate, "price_info")),
		OriginalLink:   originalLink,
		Region:         region,
	}
	return result
}

func (n *Normalizer) parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, format := range candidateDateFormats {
		var parsed time.Time
		var err error
		if format.naive {
			parsed, err = time.ParseInLocation(format.layout, raw, n.timezone)
		} else {
			parsed, err = time.Parse(format.layout, raw)
		}
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// scrubText trims a free-text field and converts empty strings and source
// placeholder words to nil, the explicit unknown marker.
func scrubText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || placeholderTokens[strings.ToLower(s)] {
		return nil
	}
	return &s
}

func validAbsoluteURL(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func stringField(candidate models.RawCandidate, key string) string {
	if value, ok := candidate[key].(string); ok {
		return value
	}
	return ""
}

func boolField(candidate models.RawCandidate, key string) (bool, bool) {
	value, ok := candidate[key].(bool)
	return value, ok
}

func floatField(candidate models.RawCandidate, key string) (float64, bool) {
	switch value := candidate[key].(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}
