package ges_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-ges/ges"
)

func TestCheckpoint_AdvanceDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	cp := ges.Checkpoint{}
	next := cp.Advance("Account", "acct-1", "Account:acct-1", 4)

	assert.Empty(t, cp)
	assert.Equal(t,
		ges.VersionIdentifier{StreamIdentifier: "Account:acct-1", Version: 4},
		next[ges.ObjectIdentifier{ObjectName: "Account", ObjectID: "acct-1"}],
	)
}

func TestCheckpoint_AdvanceOverwritesPriorPosition(t *testing.T) {
	t.Parallel()

	cp := ges.Checkpoint{}.Advance("Account", "acct-1", "Account:acct-1", 1)
	cp = cp.Advance("Account", "acct-1", "Account:acct-1", 2)

	key := ges.ObjectIdentifier{ObjectName: "Account", ObjectID: "acct-1"}
	assert.Equal(t, 2, cp[key].Version)
}

func TestCheckpoint_Clone(t *testing.T) {
	t.Parallel()

	cp := ges.Checkpoint{}.Advance("Account", "acct-1", "Account:acct-1", 1)
	clone := cp.Clone()
	clone = clone.Advance("Account", "acct-2", "Account:acct-2", 0)

	assert.Len(t, cp, 1)
	assert.Len(t, clone, 2)
}
