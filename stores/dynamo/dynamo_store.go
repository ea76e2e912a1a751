// Package dynamo provides a DynamoDB-backed ges.DataStore. Events are rows
// in a single table keyed by (stream_id, version); a second kind of item
// records a chunk's OPEN/CLOSED status the same way the chunked-session table
// this is grounded on does, written through OpenChunk/CloseChunk. Append
// does not maintain these items, and live migration's QuiesceSource step
// works through the document store, not through them.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/go-ges/ges"
)

const (
	keyStreamID = "StreamID"
	keyVersion  = "Version"

	chunkStatusOpen   = "OPEN"
	chunkStatusClosed = "CLOSED"
)

// eventItem is the DynamoDB row shape for one event.
type eventItem struct {
	StreamID          string `dynamodbav:"StreamID"`
	Version           int    `dynamodbav:"Version"`
	Type              string `dynamodbav:"Type"`
	SchemaVersion     int    `dynamodbav:"SchemaVersion"`
	Payload           []byte `dynamodbav:"Payload"`
	ExternalSequencer string `dynamodbav:"ExternalSequencer,omitempty"`
	Action            []byte `dynamodbav:"Action,omitempty"`
	Metadata          []byte `dynamodbav:"Metadata,omitempty"`
}

// chunkItem tracks the open/closed status of one stream chunk, stored under
// the stream's own StreamID so it shares the table's primary key schema
// without colliding with real event versions (chunk items use version
// -1 - chunkID, a negative value no real event ever has).
type chunkItem struct {
	StreamID    string `dynamodbav:"StreamID"`
	Version     int    `dynamodbav:"Version"`
	ChunkID     int    `dynamodbav:"ChunkID"`
	ChunkStatus string `dynamodbav:"ChunkStatus"`
	CreatedAt   int64  `dynamodbav:"CreatedAt"`
}

const chunkStatusVersion = -1

// DataStore is a DynamoDB-backed ges.DataStore.
type DataStore struct {
	dynamo    *dynamodb.Client
	tableName string
}

// NewDataStore builds a DynamoDB DataStore against the named table.
func NewDataStore(dynamoClient *dynamodb.Client, tableName string) *DataStore {
	return &DataStore{dynamo: dynamoClient, tableName: tableName}
}

// Append implements ges.DataStore. Each event is written with a
// ConditionExpression that the (stream_id, version) pair does not already
// exist, so a retried Append of an already-durable batch never double-writes:
// an item whose stored type and payload match is accepted as an idempotent
// retry and skipped; a conflict where the same version is claimed
// by two different event payloads means another writer got there first,
// and surfaces as ErrConcurrency (reload and retry), not ErrStreamIntegrity.
func (s *DataStore) Append(ctx context.Context, document *ges.ObjectDocument, preserveTimestamp bool, events []ges.Event) error {
	streamID := document.Active.StreamIdentifier
	for _, e := range events {
		actionJSON, err := marshalOptional(e.Action)
		if err != nil {
			return fmt.Errorf("%w: dynamo: encoding action metadata: %v", ges.ErrSerialization, err)
		}
		metaJSON, err := marshalOptional(e.Metadata)
		if err != nil {
			return fmt.Errorf("%w: dynamo: encoding metadata: %v", ges.ErrSerialization, err)
		}

		item, err := attributevalue.MarshalMap(eventItem{
			StreamID:          streamID,
			Version:           e.Version,
			Type:              e.Type,
			SchemaVersion:     e.SchemaVersion,
			Payload:           e.Payload,
			ExternalSequencer: e.ExternalSequencer,
			Action:            actionJSON,
			Metadata:          metaJSON,
		})
		if err != nil {
			return fmt.Errorf("%w: dynamo: marshalling event item: %v", ges.ErrSerialization, err)
		}

		_, err = s.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(" + keyVersion + ")"),
		})
		if err == nil {
			continue
		}
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			existing, found, getErr := s.getEvent(ctx, streamID, e.Version)
			if getErr != nil {
				return fmt.Errorf("%w: dynamo: verifying conflicting event: %v", ges.ErrTransient, getErr)
			}
			if found && existing.Type == e.Type && string(existing.Payload) == string(e.Payload) {
				continue
			}
			return &ges.ConcurrencyError{
				ObjectName:      document.ObjectName,
				ObjectID:        document.ObjectID,
				StreamID:        streamID,
				ExpectedVersion: e.Version - 1,
				ActualVersion:   existing.Version,
			}
		}
		return fmt.Errorf("%w: dynamo: put event: %v", ges.ErrTransient, err)
	}
	return nil
}

func (s *DataStore) getEvent(ctx context.Context, streamID string, version int) (eventItem, bool, error) {
	out, err := s.dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       eventKey(streamID, version),
	})
	if err != nil {
		return eventItem{}, false, err
	}
	if out.Item == nil {
		return eventItem{}, false, nil
	}
	var item eventItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return eventItem{}, false, err
	}
	return item, true, nil
}

func eventKey(streamID string, version int) map[string]types.AttributeValue {
	av, _ := attributevalue.MarshalMap(struct {
		StreamID string `dynamodbav:"StreamID"`
		Version  int    `dynamodbav:"Version"`
	}{streamID, version})
	return av
}

// Read implements ges.DataStore.
func (s *DataStore) Read(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) ([]ges.Event, error) {
	streamID := document.Active.StreamIdentifier

	_, found, err := s.getEvent(ctx, streamID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: dynamo: checking stream existence: %v", ges.ErrTransient, err)
	}
	if !found {
		return nil, nil
	}

	keyCond := keyStreamID + " = :sid AND " + keyVersion + " >= :start"
	values := map[string]types.AttributeValue{
		":sid":   &types.AttributeValueMemberS{Value: streamID},
		":start": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", startVersion)},
	}
	if untilVersion != nil {
		keyCond = keyStreamID + " = :sid AND " + keyVersion + " BETWEEN :start AND :until"
		values[":until"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *untilVersion)}
	}

	out := []ges.Event{}
	paginator := dynamodb.NewQueryPaginator(s.dynamo, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: dynamo: querying events: %v", ges.ErrTransient, err)
		}
		for _, rawItem := range page.Items {
			var item eventItem
			if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
				return nil, fmt.Errorf("%w: dynamo: unmarshalling event: %v", ges.ErrSerialization, err)
			}
			e, err := item.toEvent()
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (it eventItem) toEvent() (ges.Event, error) {
	e := ges.Event{
		Payload:           it.Payload,
		Type:              it.Type,
		Version:           it.Version,
		SchemaVersion:     it.SchemaVersion,
		ExternalSequencer: it.ExternalSequencer,
	}
	if len(it.Action) > 0 {
		a, err := unmarshalAction(it.Action)
		if err != nil {
			return ges.Event{}, err
		}
		e.Action = a
	}
	if len(it.Metadata) > 0 {
		m, err := unmarshalMetadata(it.Metadata)
		if err != nil {
			return ges.Event{}, err
		}
		e.Metadata = m
	}
	return e, nil
}

// ReadAsStream implements ges.DataStore.
func (s *DataStore) ReadAsStream(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) (ges.EventIterator, error) {
	events, err := s.Read(ctx, document, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{events: events}, nil
}

type sliceIterator struct {
	events []ges.Event
	pos    int
}

func (it *sliceIterator) Next(context.Context) (ges.Event, bool, error) {
	if it.pos >= len(it.events) {
		return ges.Event{}, false, nil
	}
	e := it.events[it.pos]
	it.pos++
	return e, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// OpenChunk records chunkID as OPEN, matching the pattern of the
// chunked-session table this store is grounded on: a conditional PutItem
// that fails if the chunk record already exists.
func (s *DataStore) OpenChunk(ctx context.Context, streamID string, chunkID int) error {
	item, err := attributevalue.MarshalMap(chunkItem{
		StreamID:    streamID,
		Version:     chunkStatusVersion - chunkID, // keeps each chunk's status row at a distinct, never-colliding sort key
		ChunkID:     chunkID,
		ChunkStatus: chunkStatusOpen,
		CreatedAt:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%w: dynamo: marshalling chunk item: %v", ges.ErrSerialization, err)
	}
	_, err = s.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + keyVersion + ")"),
	})
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return nil // already open; idempotent
	}
	if err != nil {
		return fmt.Errorf("%w: dynamo: open chunk: %v", ges.ErrTransient, err)
	}
	return nil
}

// CloseChunk flips chunkID's status to CLOSED, conditioned on it currently
// being OPEN.
func (s *DataStore) CloseChunk(ctx context.Context, streamID string, chunkID int) error {
	_, err := s.dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 eventKey(streamID, chunkStatusVersion-chunkID),
		UpdateExpression:    aws.String("SET ChunkStatus = :closed"),
		ConditionExpression: aws.String("ChunkStatus = :open"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":closed": &types.AttributeValueMemberS{Value: chunkStatusClosed},
			":open":   &types.AttributeValueMemberS{Value: chunkStatusOpen},
		},
	})
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return nil // already closed
	}
	if err != nil {
		return fmt.Errorf("%w: dynamo: close chunk: %v", ges.ErrTransient, err)
	}
	return nil
}

var _ ges.DataStore = (*DataStore)(nil)
