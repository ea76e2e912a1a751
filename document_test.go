package ges_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
)

func TestObjectDocument_HashStableAcrossHashField(t *testing.T) {
	t.Parallel()

	doc := &ges.ObjectDocument{
		ObjectName: "Account",
		ObjectID:   "acct-1",
		Active:     ges.StreamInformation{StreamIdentifier: "Account:acct-1", CurrentStreamVersion: -1},
	}

	h1, err := doc.Hash()
	require.NoError(t, err)

	doc.Hash = "whatever-was-there-before"
	h2, err := doc.Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "Hash() must not depend on the current value of the Hash field")
}

func TestObjectDocument_HashChangesWithContent(t *testing.T) {
	t.Parallel()

	a := &ges.ObjectDocument{ObjectName: "Account", ObjectID: "1", Active: ges.StreamInformation{CurrentStreamVersion: -1}}
	b := &ges.ObjectDocument{ObjectName: "Account", ObjectID: "1", Active: ges.StreamInformation{CurrentStreamVersion: 0}}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestNormalizedObjectName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "account", ges.NormalizedObjectName("Account"))
	assert.Equal(t, "account", ges.NormalizedObjectName("ACCOUNT"))
}

func TestStreamChunk_ContainsAndIsOpen(t *testing.T) {
	t.Parallel()

	closed := ges.StreamChunk{ChunkID: 0, FirstVersion: 0, LastVersion: 9}
	open := ges.StreamChunk{ChunkID: 1, FirstVersion: 10, LastVersion: -1}

	assert.False(t, closed.IsOpen())
	assert.True(t, open.IsOpen())

	assert.True(t, closed.Contains(0))
	assert.True(t, closed.Contains(9))
	assert.False(t, closed.Contains(10))
	assert.False(t, closed.Contains(-1))

	assert.True(t, open.Contains(10))
	assert.True(t, open.Contains(1000))
	assert.False(t, open.Contains(9))
}

func TestPlanAppend_DisabledChunking(t *testing.T) {
	t.Parallel()

	settings := ges.StreamChunkSettings{EnableChunks: false}
	out := ges.PlanAppend(nil, settings, 0, 5)
	assert.Empty(t, out)
}

func TestPlanAppend_OpensAndClosesChunks(t *testing.T) {
	t.Parallel()

	settings := ges.StreamChunkSettings{EnableChunks: true, ChunkSize: 3}

	// First append: versions 0,1,2,3,4 -> chunk 0 holds [0,2], chunk 1 opens at 3.
	chunks := ges.PlanAppend(nil, settings, 0, 5)
	require.Len(t, chunks, 2)
	assert.Equal(t, ges.StreamChunk{ChunkID: 0, FirstVersion: 0, LastVersion: 2}, chunks[0])
	assert.Equal(t, ges.StreamChunk{ChunkID: 1, FirstVersion: 3, LastVersion: -1}, chunks[1])

	// Second append continues into the open chunk (already holding 3,4): version
	// 5 fits, version 6 would make it size 4 and overflows into a fresh chunk.
	chunks = ges.PlanAppend(chunks, settings, 5, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, ges.StreamChunk{ChunkID: 1, FirstVersion: 3, LastVersion: 5}, chunks[1])
	assert.Equal(t, ges.StreamChunk{ChunkID: 2, FirstVersion: 6, LastVersion: -1}, chunks[2])
}

func TestChunkFor(t *testing.T) {
	t.Parallel()

	chunks := []ges.StreamChunk{
		{ChunkID: 0, FirstVersion: 0, LastVersion: 2},
		{ChunkID: 1, FirstVersion: 3, LastVersion: -1},
	}

	c, ok := ges.ChunkFor(chunks, 1)
	require.True(t, ok)
	assert.Equal(t, 0, c.ChunkID)

	c, ok = ges.ChunkFor(chunks, 50)
	require.True(t, ok)
	assert.Equal(t, 1, c.ChunkID)

	_, ok = ges.ChunkFor(chunks, -1)
	assert.False(t, ok)
}
