package ges_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/stores/mem"
)

func seedSourceStream(t *testing.T, dataStore *mem.DataStore, docStore *mem.DocumentStore, n int) *ges.ObjectDocument {
	t.Helper()
	ctx := context.Background()

	doc, err := docStore.GetOrCreate(ctx, "Order", "order-migrate")
	require.NoError(t, err)

	events := make([]ges.Event, n)
	for i := range events {
		payload, _ := json.Marshal(map[string]int{"n": i})
		events[i] = ges.Event{Payload: payload, Type: "Tick", Version: i, SchemaVersion: 1}
	}
	require.NoError(t, dataStore.Append(ctx, doc, false, events))
	doc.Active.CurrentStreamVersion = n - 1
	require.NoError(t, docStore.Set(ctx, doc))
	return doc
}

func TestMigrationExecutor_CopiesEventsInOrderAndClosesSourceOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sourceData := mem.NewDataStore()
	sourceDocs := mem.NewDocumentStore()
	targetData := mem.NewDataStore()

	sourceDoc := seedSourceStream(t, sourceData, sourceDocs, 7)

	targetDoc := *sourceDoc
	targetDoc.Active.StreamIdentifier = "order:order-migrate-v2"
	targetDoc.Active.CurrentStreamVersion = -1

	mc := &ges.LiveMigrationContext{
		MigrationID:     "mig-1",
		SourceDocument:  sourceDoc,
		TargetDocument:  &targetDoc,
		SourceStreamID:  sourceDoc.Active.StreamIdentifier,
		TargetStreamID:  targetDoc.Active.StreamIdentifier,
		Options:         ges.LiveMigrationOptions{BatchSize: 3, MaxIterations: 10},
		SourceDataStore: sourceData,
		TargetDataStore: targetData,
		DocumentStore:   sourceDocs,
	}

	executor := ges.NewMigrationExecutor(nil)

	var progressed []ges.LiveMigrationProgress
	result, err := executor.Run(ctx, mc, func(p ges.LiveMigrationProgress) {
		progressed = append(progressed, p)
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 7, result.TotalEventsCopied)
	require.NotEmpty(t, progressed)
	assert.Equal(t, 3, progressed[0].EventsCopiedThisIteration, "first iteration is capped at BatchSize")

	copied, err := targetData.Read(ctx, &targetDoc, 0, nil)
	require.NoError(t, err)
	require.Len(t, copied, 7)
	for i, e := range copied {
		assert.Equal(t, i, e.Version)
		assert.Equal(t, "Tick", e.Type)
	}
	for _, e := range copied {
		assert.NotEqual(t, ges.StreamClosedEventType, e.Type)
	}

	sourceEvents, err := sourceData.Read(ctx, sourceDoc, 0, nil)
	require.NoError(t, err)
	require.Len(t, sourceEvents, 8) // 7 ticks + StreamClosed
	assert.Equal(t, ges.StreamClosedEventType, sourceEvents[7].Type)

	final, err := sourceDocs.Get(ctx, "Order", "order-migrate")
	require.NoError(t, err)
	assert.Equal(t, targetDoc.Active.StreamIdentifier, final.Active.StreamIdentifier)
	assert.False(t, final.Active.Quiescing)
	require.Len(t, final.TerminatedStreams, 1)
	assert.Equal(t, sourceDoc.Active.StreamIdentifier, final.TerminatedStreams[0].StreamIdentifier)
}

func TestMigrationExecutor_CancelledBeforeCloseLeavesSourceAuthoritative(t *testing.T) {
	t.Parallel()

	sourceData := mem.NewDataStore()
	sourceDocs := mem.NewDocumentStore()
	targetData := mem.NewDataStore()

	sourceDoc := seedSourceStream(t, sourceData, sourceDocs, 3)
	targetDoc := *sourceDoc
	targetDoc.Active.StreamIdentifier = "order:order-migrate-v2"
	targetDoc.Active.CurrentStreamVersion = -1

	mc := &ges.LiveMigrationContext{
		MigrationID:     "mig-2",
		SourceDocument:  sourceDoc,
		TargetDocument:  &targetDoc,
		SourceStreamID:  sourceDoc.Active.StreamIdentifier,
		TargetStreamID:  targetDoc.Active.StreamIdentifier,
		Options:         ges.LiveMigrationOptions{},
		SourceDataStore: sourceData,
		TargetDataStore: targetData,
		DocumentStore:   sourceDocs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := ges.NewMigrationExecutor(nil)
	result, err := executor.Run(ctx, mc, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrCancelled)
	assert.False(t, result.Success)

	reloaded, getErr := sourceDocs.Get(context.Background(), "Order", "order-migrate")
	require.NoError(t, getErr)
	assert.Equal(t, sourceDoc.Active.StreamIdentifier, reloaded.Active.StreamIdentifier)
	assert.False(t, reloaded.Active.Quiescing)
}
