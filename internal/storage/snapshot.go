package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hamburg-family-events-scraper/internal/models"
)

// SnapshotPublisher writes the current validated event set to S3 as a single
// JSON document consumed by the app frontend. Publishing is decoupled from
// pipeline runs; the publish command drives it.
type SnapshotPublisher struct {
	client *s3.Client
	bucket string
	key    string
}

// Snapshot is the published document shape.
type Snapshot struct {
	Metadata SnapshotMetadata     `json:"metadata"`
	Events   []models.StoredEvent `json:"events"`
}

// SnapshotMetadata describes the published event set.
type SnapshotMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	TotalEvents int       `json:"totalEvents"`
	Region      string    `json:"region"`
	Version     string    `json:"version"`
}

// NewSnapshotPublisher creates a publisher for the given bucket and object
// key using the default AWS credential chain.
func NewSnapshotPublisher(ctx context.Context, bucket, key string) (*SnapshotPublisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("snapshot bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SnapshotPublisher{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
	}, nil
}

// Publish uploads the events as the latest snapshot.
func (p *SnapshotPublisher) Publish(ctx context.Context, region string, events []models.StoredEvent) error {
	snapshot := Snapshot{
		Metadata: SnapshotMetadata{
			LastUpdated: time.Now().UTC(),
			TotalEvents: len(events),
			Region:      region,
			Version:     "1.0.0",
		},
		Events: events,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(p.key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to s3://%s/%s: %w", p.bucket, p.key, err)
	}
	return nil
}
