package models

import "time"

// RawCandidate is an unvalidated event as produced by a source adapter,
// keyed by the snake_case candidate JSON field names. Values may be missing
// or carry the wrong type; nothing downstream of the normalizer ever sees
// a RawCandidate.
type RawCandidate map[string]any

// Location describes where an event takes place. Optional fields are nil
// when unknown. Lat and Lng are either both set or both nil.
type Location struct {
	Name     *string  `json:"name" dynamodbav:"name"`
	Address  *string  `json:"address" dynamodbav:"address"`
	District *string  `json:"district" dynamodbav:"district"`
	Lat      *float64 `json:"lat" dynamodbav:"lat"`
	Lng      *float64 `json:"lng" dynamodbav:"lng"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// Event is a schema-conformant family event produced by the normalizer.
// Required fields are always present and type-correct; optional fields use
// nil as the explicit unknown marker, never a placeholder string.
type Event struct {
	Title          string     `json:"title" dynamodbav:"title"`
	Description    *string    `json:"description" dynamodbav:"description"`
	DateStart      time.Time  `json:"date_start" dynamodbav:"date_start"`
	DateEnd        *time.Time `json:"date_end" dynamodbav:"date_end"`
	Location       Location   `json:"location" dynamodbav:"location"`
	Category       string     `json:"category" dynamodbav:"category"`
	IsIndoor       bool       `json:"is_indoor" dynamodbav:"is_indoor"`
	AgeSuitability *string    `json:"age_suitability" dynamodbav:"age_suitability"`
	PriceInfo      *string    `json:"price_info" dynamodbav:"price_info"`
	OriginalLink   *string    `json:"original_link" dynamodbav:"original_link"`
	Region         string     `json:"region" dynamodbav:"region"`
}

// StoredEvent is an Event plus its content-hash identity and the source it
// was first produced by. The ID is a pure function of title, start date and
// location name; SourceID is set by the pipeline, never by an adapter.
type StoredEvent struct {
	ID       string `json:"id" dynamodbav:"id"`
	SourceID string `json:"source_id" dynamodbav:"source_id"`
	Event
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Event category constants
const (
	CategoryTheater = "theater"
	CategoryOutdoor = "outdoor"
	CategoryMuseum  = "museum"
	CategoryMusic   = "music"
	CategorySport   = "sport"
	CategoryMarket  = "market"
	CategoryKreativ = "kreativ"
	CategoryLesen   = "lesen"
)

// DefaultCategory is the fallback for candidates whose category is not in
// the fixed enumeration. Unknown categories are coerced, not dropped.
const DefaultCategory = CategoryOutdoor

// DefaultRegion is the region code applied when a candidate leaves it blank.
const DefaultRegion = "hamburg"

// Categories lists the fixed category enumeration.
func Categories() []string {
	return []string{
		CategoryTheater,
		CategoryOutdoor,
		CategoryMuseum,
		CategoryMusic,
		CategorySport,
		CategoryMarket,
		CategoryKreativ,
		CategoryLesen,
	}
}

// ValidCategory checks whether category is part of the fixed enumeration.
func ValidCategory(category string) bool {
	for _, c := range Categories() {
		if category == c {
			return true
		}
	}
	return false
}

// StringPtr returns a pointer to s. Convenience for building optional fields.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
