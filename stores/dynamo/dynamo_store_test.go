package dynamo_test

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/stores/dynamo"
)

func newTestStore(t *testing.T) *dynamo.DataStore {
	t.Helper()
	endpoint := os.Getenv("GES_DYNAMO_ENDPOINT")
	table := os.Getenv("GES_DYNAMO_TABLE")
	if endpoint == "" || table == "" {
		t.Skip("set GES_DYNAMO_ENDPOINT and GES_DYNAMO_TABLE to run against DynamoDB Local")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion("us-east-1"))
	require.NoError(t, err)

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return dynamo.NewDataStore(client, table)
}

func testDocument(streamID string) *ges.ObjectDocument {
	return &ges.ObjectDocument{
		ObjectName: "Order",
		ObjectID:   streamID,
		Active: ges.StreamInformation{
			StreamIdentifier:     streamID,
			CurrentStreamVersion: -1,
		},
	}
}

func TestDataStore_AppendReadRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	doc := testDocument("order-dynamo-1")
	events := []ges.Event{
		{Payload: []byte(`{"n":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
		{Payload: []byte(`{"n":2}`), Type: "Shipped", Version: 1, SchemaVersion: 1},
	}
	require.NoError(t, store.Append(ctx, doc, false, events))

	got, err := store.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Placed", got[0].Type)
	assert.Equal(t, "Shipped", got[1].Type)
}

func TestDataStore_AppendRejectsConflictingVersion(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	doc := testDocument("order-dynamo-conflict")
	require.NoError(t, store.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"a":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	}))

	err := store.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"a":2}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
	assert.NotErrorIs(t, err, ges.ErrStreamIntegrity)
}

func TestDataStore_AppendIsIdempotentOnRetry(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	doc := testDocument("order-dynamo-idempotent")
	events := []ges.Event{{Payload: []byte(`{}`), Type: "Placed", Version: 0, SchemaVersion: 1}}
	require.NoError(t, store.Append(ctx, doc, false, events))
	require.NoError(t, store.Append(ctx, doc, false, events))
}

func TestDataStore_ReadMissingStreamReturnsNil(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	doc := testDocument("order-dynamo-missing")
	got, err := store.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDataStore_ChunkLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.OpenChunk(ctx, "order-dynamo-chunked", 0))
	require.NoError(t, store.OpenChunk(ctx, "order-dynamo-chunked", 0)) // idempotent
	require.NoError(t, store.CloseChunk(ctx, "order-dynamo-chunked", 0))
	require.NoError(t, store.CloseChunk(ctx, "order-dynamo-chunked", 0)) // idempotent
}
