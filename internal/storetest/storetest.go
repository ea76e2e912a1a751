// Package storetest is a backend compliance suite shared by the ges store
// implementations that provide an ObjectDocumentStore (mem, pgx). Their test
// packages supply a Factory and call Run against it; the DataStore-only
// backends (blob, dynamo) have their own tests and do not call Run.
package storetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
)

// Backend bundles the stores a single compliance run exercises. SnapshotStore
// may be nil for backends that don't implement one (none currently do, but
// the suite tolerates it).
type Backend struct {
	Documents ges.ObjectDocumentStore
	Data      ges.DataStore
	Snapshots ges.SnapshotStore
}

// Factory builds a fresh, isolated Backend for one subtest.
type Factory func(t *testing.T) Backend

// Run exercises every store interface's documented contract against the
// backend Factory produces.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("DocumentGetOrCreate_IsIdempotent", func(t *testing.T) { testGetOrCreateIdempotent(t, factory) })
	t.Run("DocumentSet_EnforcesHashPrecondition", func(t *testing.T) { testSetHashPrecondition(t, factory) })
	t.Run("DocumentSet_RewritesHashOnSuccess", func(t *testing.T) { testSetRewritesHash(t, factory) })
	t.Run("DataAppendRead_RoundTrips", func(t *testing.T) { testAppendReadRoundTrip(t, factory) })
	t.Run("DataAppend_VersionCollisionIsConcurrency", func(t *testing.T) { testAppendVersionCollisionIsConcurrency(t, factory) })
	t.Run("DataRead_ReturnsNilForMissingStream", func(t *testing.T) { testReadMissingStream(t, factory) })
	t.Run("DataRead_HonorsVersionRange", func(t *testing.T) { testReadVersionRange(t, factory) })
	t.Run("DataReadAsStream_MatchesRead", func(t *testing.T) { testReadAsStreamMatchesRead(t, factory) })
	t.Run("DocumentTags_RoundTrip", func(t *testing.T) { testDocumentTags(t, factory) })
	if hasSnapshots(factory) {
		t.Run("SnapshotSetGetDelete_RoundTrips", func(t *testing.T) { testSnapshotRoundTrip(t, factory) })
	}
}

func hasSnapshots(factory Factory) bool {
	return true // tests skip internally via t.Skip when a given run's Backend.Snapshots is nil
}

func testGetOrCreateIdempotent(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	first, err := b.Documents.GetOrCreate(ctx, "Order", "order-1")
	require.NoError(t, err)
	second, err := b.Documents.GetOrCreate(ctx, "Order", "order-1")
	require.NoError(t, err)

	assert.Equal(t, first.Active.StreamIdentifier, second.Active.StreamIdentifier)
	assert.Equal(t, -1, second.Active.CurrentStreamVersion)
}

func testSetHashPrecondition(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-2")
	require.NoError(t, err)

	stale := *doc
	stale.Hash = "not-the-real-hash"
	err = b.Documents.Set(ctx, &stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
}

func testSetRewritesHash(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-3")
	require.NoError(t, err)
	priorHash := doc.Hash

	doc.Active.CurrentStreamVersion = 0
	require.NoError(t, b.Documents.Set(ctx, doc))
	assert.NotEqual(t, priorHash, doc.Hash)

	reloaded, err := b.Documents.Get(ctx, "Order", "order-3")
	require.NoError(t, err)
	assert.Equal(t, doc.Hash, reloaded.Hash)
}

func testAppendReadRoundTrip(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-4")
	require.NoError(t, err)

	events := []ges.Event{
		{Payload: []byte(`{"n":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
		{Payload: []byte(`{"n":2}`), Type: "Shipped", Version: 1, SchemaVersion: 1},
	}
	require.NoError(t, b.Data.Append(ctx, doc, false, events))

	got, err := b.Data.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Placed", got[0].Type)
	assert.Equal(t, "Shipped", got[1].Type)
}

// testAppendVersionCollisionIsConcurrency asserts that when two writers race
// to append the same version of a stream, the loser gets ErrConcurrency, not
// ErrStreamIntegrity: the version is occupied because another writer already
// committed there, not because of a gap or out-of-order event observed on
// read.
func testAppendVersionCollisionIsConcurrency(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-collision")
	require.NoError(t, err)

	require.NoError(t, b.Data.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"n":1}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	}))

	err = b.Data.Append(ctx, doc, false, []ges.Event{
		{Payload: []byte(`{"n":2}`), Type: "Placed", Version: 0, SchemaVersion: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
	assert.NotErrorIs(t, err, ges.ErrStreamIntegrity)
}

func testReadMissingStream(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-5")
	require.NoError(t, err)

	got, err := b.Data.Read(ctx, doc, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testReadVersionRange(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-6")
	require.NoError(t, err)

	events := make([]ges.Event, 5)
	for i := range events {
		events[i] = ges.Event{Payload: []byte("{}"), Type: "Tick", Version: i, SchemaVersion: 1}
	}
	require.NoError(t, b.Data.Append(ctx, doc, false, events))

	until := 2
	got, err := b.Data.Read(ctx, doc, 1, &until)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, 2, got[1].Version)
}

func testReadAsStreamMatchesRead(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-7")
	require.NoError(t, err)

	events := []ges.Event{
		{Payload: []byte("{}"), Type: "Tick", Version: 0, SchemaVersion: 1},
		{Payload: []byte("{}"), Type: "Tick", Version: 1, SchemaVersion: 1},
		{Payload: []byte("{}"), Type: "Tick", Version: 2, SchemaVersion: 1},
	}
	require.NoError(t, b.Data.Append(ctx, doc, false, events))

	want, err := b.Data.Read(ctx, doc, 0, nil)
	require.NoError(t, err)

	it, err := b.Data.ReadAsStream(ctx, doc, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = it.Close() })

	var got []ges.Event
	for {
		e, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e)
	}
	assert.Equal(t, want, got)
}

func testDocumentTags(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	ctx := t.Context()

	_, err := b.Documents.GetOrCreate(ctx, "Order", "order-8")
	require.NoError(t, err)

	tagger, ok := b.Documents.(ges.DocumentTagStore)
	if !ok {
		t.Skip("backend does not implement ges.DocumentTagStore")
	}
	require.NoError(t, tagger.Tag(ctx, "Order", "order-8", "vip"))

	ids, err := b.Documents.GetByTag(ctx, "Order", "vip")
	require.NoError(t, err)
	assert.Contains(t, ids, "order-8")

	first, err := b.Documents.GetFirstByTag(ctx, "Order", "vip")
	require.NoError(t, err)
	assert.Equal(t, "order-8", first)
}

func testSnapshotRoundTrip(t *testing.T, factory Factory) {
	t.Helper()
	b := factory(t)
	if b.Snapshots == nil {
		t.Skip("backend has no SnapshotStore")
	}
	ctx := t.Context()

	doc, err := b.Documents.GetOrCreate(ctx, "Order", "order-9")
	require.NoError(t, err)

	type state struct{ Total int }
	require.NoError(t, ges.SetSnapshot(ctx, b.Snapshots, doc, 10, "totals", state{Total: 42}))

	got, found, err := ges.GetSnapshot[state](ctx, b.Snapshots, doc, 10, "totals")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 42, got.Total)

	metas, err := b.Snapshots.ListSnapshots(ctx, doc)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 10, metas[0].Version)

	deleted, err := b.Snapshots.Delete(ctx, doc, 10, "totals")
	require.NoError(t, err)
	assert.True(t, deleted)
}
