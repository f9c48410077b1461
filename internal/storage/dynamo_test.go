package storage

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"hamburg-family-events-scraper/internal/models"
)

func TestStoredEventMarshalsSnakeCaseAttributes(t *testing.T) {
	event := models.StoredEvent{
		ID:       "evt_0123456789abcdef",
		SourceID: "src-1",
		Event: models.Event{
			Title:       "Kinderkonzert",
			Description: models.StringPtr("Mitmachkonzert"),
			DateStart:   time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC),
			Location: models.Location{
				Name: models.StringPtr("Elbphilharmonie"),
				Lat:  models.Float64Ptr(53.541),
				Lng:  models.Float64Ptr(9.984),
			},
			Category: models.CategoryMusic,
			IsIndoor: true,
			Region:   models.DefaultRegion,
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	item, err := attributevalue.MarshalMap(&event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// The update path addresses attributes by their snake_case names; every
	// field must marshal under them.
	for _, key := range []string{
		"id", "source_id", "title", "description", "date_start", "date_end",
		"location", "category", "is_indoor", "age_suitability", "price_info",
		"original_link", "region", "created_at", "updated_at",
	} {
		if _, ok := item[key]; !ok {
			t.Errorf("attribute %q missing from marshaled item", key)
		}
	}
	for _, key := range []string{"Title", "DateStart", "Location", "Event", "IsIndoor"} {
		if _, ok := item[key]; ok {
			t.Errorf("unexpected Go-named attribute %q in marshaled item", key)
		}
	}

	var decoded models.StoredEvent
	if err := attributevalue.UnmarshalMap(item, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Title != "Kinderkonzert" || decoded.SourceID != "src-1" {
		t.Errorf("round trip lost fields: %+v", decoded)
	}
	if decoded.Location.Name == nil || *decoded.Location.Name != "Elbphilharmonie" {
		t.Errorf("location did not round trip: %+v", decoded.Location)
	}
}
