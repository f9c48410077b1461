package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"hamburg-family-events-scraper/internal/models"
)

// DynamoStore implements EventStore on a DynamoDB table keyed by the event
// identity. The insert path uses a conditional put, so two concurrent
// writers can never both create the same identity; the loser of the race
// falls through to the update path.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore creates a store backed by the given table.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// UpsertEvent implements the identity-keyed create-or-update contract.
func (s *DynamoStore) UpsertEvent(ctx context.Context, event *models.StoredEvent, reassignSource bool) (bool, error) {
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	item, err := attributevalue.MarshalMap(event)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err == nil {
		return true, nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return false, fmt.Errorf("failed to put event %s: %w", event.ID, err)
	}

	// Identity already stored: overwrite the non-identity fields in place,
	// leaving source_id and created_at untouched unless reassignment was
	// requested.
	if err := s.updateEvent(ctx, item, event.ID, reassignSource); err != nil {
		return false, err
	}
	return false, nil
}

func (s *DynamoStore) updateEvent(ctx context.Context, item map[string]types.AttributeValue, id string, reassignSource bool) error {
	delete(item, "id")
	delete(item, "created_at")
	if !reassignSource {
		delete(item, "source_id")
	}

	expr := ""
	names := make(map[string]string, len(item))
	values := make(map[string]types.AttributeValue, len(item))
	i := 0
	for key, value := range item {
		if expr != "" {
			expr += ", "
		}
		name := fmt.Sprintf("#f%d", i)
		placeholder := fmt.Sprintf(":v%d", i)
		expr += name + " = " + placeholder
		names[name] = key
		values[placeholder] = value
		i++
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String("SET " + expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	return nil
}

// GetEvent retrieves a stored event by identity.
func (s *DynamoStore) GetEvent(ctx context.Context, id string) (*models.StoredEvent, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, &NotFoundError{Kind: "event", ID: id}
	}

	var event models.StoredEvent
	if err := attributevalue.UnmarshalMap(result.Item, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", id, err)
	}
	return &event, nil
}

// ListEvents scans the table and filters client-side. Fine for the table
// sizes this pipeline produces; a region-date GSI would be the next step if
// that changes.
func (s *DynamoStore) ListEvents(ctx context.Context, filter ListFilter) ([]models.StoredEvent, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})

	var events []models.StoredEvent
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan events: %w", err)
		}
		var batch []models.StoredEvent
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal events: %w", err)
		}
		for _, event := range batch {
			if matchesFilter(&event, filter) {
				events = append(events, event)
			}
		}
	}
	return events, nil
}

func matchesFilter(event *models.StoredEvent, filter ListFilter) bool {
	if filter.Region != "" && event.Region != filter.Region {
		return false
	}
	if filter.Category != "" && event.Category != filter.Category {
		return false
	}
	if !filter.From.IsZero() && event.DateStart.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && event.DateStart.After(filter.To) {
		return false
	}
	if filter.IsIndoor != nil && event.IsIndoor != *filter.IsIndoor {
		return false
	}
	return true
}

// ListEventIDs returns all stored identities, optionally scoped to a source.
func (s *DynamoStore) ListEventIDs(ctx context.Context, sourceID string) ([]string, error) {
	events, err := s.ListEvents(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, event := range events {
		if sourceID != "" && event.SourceID != sourceID {
			continue
		}
		ids = append(ids, event.ID)
	}
	return ids, nil
}

// DeleteEventsBefore removes events starting before cutoff.
func (s *DynamoStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := s.ListEvents(ctx, ListFilter{To: cutoff.Add(-time.Nanosecond)})
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, event := range events {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: event.ID}},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete event %s: %w", event.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// Close is a no-op; the DynamoDB client holds no resources to release.
func (s *DynamoStore) Close() error { return nil }
