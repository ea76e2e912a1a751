package ges_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-ges/ges"
)

func TestMetadata_Merge(t *testing.T) {
	t.Parallel()

	base := ges.Metadata{"tenant_id": "t1", "user_id": "u1"}
	override := ges.Metadata{"user_id": "u2", "trace_id": "tr1"}

	merged := base.Merge(override)

	assert.Equal(t, ges.Metadata{"tenant_id": "t1", "user_id": "u2", "trace_id": "tr1"}, merged)
	assert.Equal(t, ges.Metadata{"tenant_id": "t1", "user_id": "u1"}, base, "Merge must not mutate the receiver")
}

func TestMetadata_MergeOnNilReceiver(t *testing.T) {
	t.Parallel()

	var base ges.Metadata
	merged := base.Merge(ges.Metadata{"a": "1"})
	assert.Equal(t, ges.Metadata{"a": "1"}, merged)
}
