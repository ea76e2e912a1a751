package ges_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
)

func TestPostCommitExecutor_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	executor := ges.NewPostCommitExecutor(ges.PostCommitOptions{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, nil)

	var calls atomic.Int32
	failUntil := int32(2)
	action := ges.PostCommitAction{
		Name: "notify",
		Run: func(ctx context.Context, document *ges.ObjectDocument, events []ges.Event) error {
			n := calls.Add(1)
			if n <= failUntil {
				return errors.New("downstream unavailable")
			}
			return nil
		},
	}

	document := &ges.ObjectDocument{ObjectName: "Order", ObjectID: "order-1"}
	events := []ges.Event{{Type: "Placed", Version: 0}}
	executor.Schedule(document, events, []ges.PostCommitAction{action})

	select {
	case batch := <-executor.Results():
		require.Len(t, batch, 1)
		assert.True(t, batch[0].Succeeded)
		assert.Equal(t, "notify", batch[0].Name)
		assert.Equal(t, int(failUntil)+1, batch[0].RetryAttempts)
		assert.NoError(t, batch[0].Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-commit result")
	}
}

func TestPostCommitExecutor_ExhaustsRetriesWithoutAffectingCommittedEvents(t *testing.T) {
	t.Parallel()

	executor := ges.NewPostCommitExecutor(ges.PostCommitOptions{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, nil)

	permanentErr := errors.New("downstream permanently down")
	action := ges.PostCommitAction{
		Name: "notify",
		Run: func(ctx context.Context, document *ges.ObjectDocument, events []ges.Event) error {
			return permanentErr
		},
	}

	document := &ges.ObjectDocument{ObjectName: "Order", ObjectID: "order-2"}
	committed := []ges.Event{{Type: "Placed", Version: 0}, {Type: "Shipped", Version: 1}}
	executor.Schedule(document, committed, []ges.PostCommitAction{action})

	select {
	case batch := <-executor.Results():
		require.Len(t, batch, 1)
		assert.False(t, batch[0].Succeeded)
		assert.ErrorIs(t, batch[0].Err, permanentErr)
		assert.Equal(t, 3, batch[0].RetryAttempts) // initial attempt + 2 retries
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-commit result")
	}

	// The action's exhausted retries never touch the events already
	// committed by the caller; durability doesn't depend on this result.
	require.Len(t, committed, 2)
	assert.Equal(t, "Placed", committed[0].Type)
	assert.Equal(t, "Shipped", committed[1].Type)
}

func TestPostCommitExecutor_ScheduleWithNoActionsIsNoOp(t *testing.T) {
	t.Parallel()

	executor := ges.NewPostCommitExecutor(ges.PostCommitOptions{}, nil)
	document := &ges.ObjectDocument{ObjectName: "Order", ObjectID: "order-3"}
	executor.Schedule(document, nil, nil)

	select {
	case batch := <-executor.Results():
		t.Fatalf("expected no result batch, got %v", batch)
	case <-time.After(50 * time.Millisecond):
	}
}
