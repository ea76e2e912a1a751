package blob_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/stores/blob"
)

func newTestClient(t *testing.T) (*blob.DataStore, *blob.SnapshotStore, *blob.BackupProvider) {
	t.Helper()
	endpoint := os.Getenv("GES_BLOB_S3_ENDPOINT")
	bucket := os.Getenv("GES_BLOB_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("set GES_BLOB_S3_ENDPOINT and GES_BLOB_S3_BUCKET to run against a real or LocalStack S3 endpoint")
	}

	client, err := blob.NewClient(t.Context(), blob.ClientOptions{
		Region:       "us-east-1",
		Endpoint:     endpoint,
		UsePathStyle: true,
	})
	require.NoError(t, err)
	return blob.NewDataStore(client, bucket), blob.NewSnapshotStore(client, bucket), blob.NewBackupProvider(client, bucket)
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
	data, _, _ := newTestClient(t)
	ctx := t.Context()

	doc := testDocument("order-blob-1")
	events := []ges.Event{
		{Payload: []byte(`{"n":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
		{Payload: []byte(`{"n":2}`), Type: "Shipped", Version: 1, SchemaVersion: 1},
	}
	require.NoError(t, data.Append(ctx, doc, false, events))
	doc.Active.CurrentStreamVersion = 1

	got, err := data.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Placed", got[0].Type)
	assert.Equal(t, "Shipped", got[1].Type)
}

func TestDataStore_AppendIsIdempotentOnRetry(t *testing.T) {
	t.Parallel()
	data, _, _ := newTestClient(t)
	ctx := t.Context()

	doc := testDocument("order-blob-2")
	events := []ges.Event{{Payload: []byte(`{}`), Type: "Placed", Version: 0, SchemaVersion: 1}}
	require.NoError(t, data.Append(ctx, doc, false, events))
	require.NoError(t, data.Append(ctx, doc, false, events))
}

func TestDataStore_AppendRejectsConflictingVersion(t *testing.T) {
	t.Parallel()
	data, _, _ := newTestClient(t)
	ctx := t.Context()

	doc := testDocument("order-blob-3")
	require.NoError(t, data.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"a":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	}))

	err := data.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"a":2}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
}

func TestDataStore_ReadMissingStreamReturnsNil(t *testing.T) {
	t.Parallel()
	data, _, _ := newTestClient(t)
	ctx := t.Context()

	doc := testDocument("order-blob-missing")
	got, err := data.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotStore_SetGetListDelete(t *testing.T) {
	t.Parallel()
	_, snaps, _ := newTestClient(t)
	ctx := t.Context()

	doc := testDocument("order-blob-4")
	type state struct{ Total int }
	require.NoError(t, ges.SetSnapshot(ctx, snaps, doc, 10, "totals", state{Total: 7}))

	got, found, err := ges.GetSnapshot[state](ctx, snaps, doc, 10, "totals")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, got.Total)

	metas, err := snaps.ListSnapshots(ctx, doc)
	require.NoError(t, err)
	require.Len(t, metas, 1)

	deleted, err := snaps.Delete(ctx, doc, 10, "totals")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestBackupProvider_WriteReadDelete(t *testing.T) {
	t.Parallel()
	_, _, provider := newTestClient(t)
	ctx := t.Context()

	location, err := provider.Write(ctx, "backup-1", []byte(`{"hello":"world"}`))
	require.NoError(t, err)

	data, err := provider.Read(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(data))

	require.NoError(t, provider.Delete(ctx, location))
}
