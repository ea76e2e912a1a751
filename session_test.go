package ges_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/stores/mem"
)

type depositEvent struct {
	Amount int64
}

func (depositEvent) EventType() string { return "Deposited" }

func newTestFactory() *ges.Factory {
	return &ges.Factory{
		DocumentStore: mem.NewDocumentStore(),
		DataStore:     mem.NewDataStore(),
		Snapshots:     mem.NewSnapshotStore(),
	}
}

func TestSession_CommitAppendsAndAdvancesVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	stream.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	err = stream.Session(ctx, ges.New, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 10}, ges.AppendOptions{})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stream.Document().Active.CurrentStreamVersion)

	events, err := stream.Read(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Deposited", events[0].Type)
}

func TestSession_NewConstraintRejectsNonEmptyStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	stream.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	commit := func() error {
		return stream.Session(ctx, ges.New, func(ctx context.Context, session *ges.LeasedSession) error {
			_, err := session.Append(ctx, depositEvent{Amount: 1}, ges.AppendOptions{})
			return err
		})
	}
	require.NoError(t, commit())

	err = commit()
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConstraint)
}

func TestSession_ExistingConstraintRejectsEmptyStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	stream.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	err = stream.Session(ctx, ges.Existing, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 1}, ges.AppendOptions{})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConstraint)
}

func TestSession_ConcurrentCommitsDetectConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	// Two EventStream handles open the same document concurrently.
	streamA, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	streamA.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	streamB, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	streamB.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	err = streamA.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 1}, ges.AppendOptions{})
		return err
	})
	require.NoError(t, err)

	// streamB still thinks the stream is empty.
	err = streamB.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 2}, ges.AppendOptions{})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
}

func TestSession_QuiescingRejectsCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	stream.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())
	stream.Document().Active.Quiescing = true

	err = stream.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 1}, ges.AppendOptions{})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrMigrating)
}

func TestSession_EmptyBufferIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)

	err = stream.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, -1, stream.Document().Active.CurrentStreamVersion)
}

func TestSession_PostAppendActionRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := newTestFactory()

	stream, err := factory.Open(ctx, "Account", "acct-1")
	require.NoError(t, err)
	stream.RegisterEventType("Deposited", ges.JSONCodec[depositEvent]())

	var seen []ges.Event
	stream.RegisterPostAppendAction(func(ctx context.Context, document *ges.ObjectDocument, event ges.Event) error {
		seen = append(seen, event)
		return nil
	})

	err = stream.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		_, err := session.Append(ctx, depositEvent{Amount: 1}, ges.AppendOptions{})
		if err != nil {
			return err
		}
		_, err = session.Append(ctx, depositEvent{Amount: 2}, ges.AppendOptions{})
		return err
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, 0, seen[0].Version)
	assert.Equal(t, 1, seen[1].Version)
}
