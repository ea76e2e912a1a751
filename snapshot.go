package ges

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotMetadata describes a stored snapshot without its payload.
type SnapshotMetadata struct {
	Version   int
	CreatedAt time.Time
	Name      string
	SizeBytes int64
}

// SnapshotKey builds the backend-agnostic path fragment for a snapshot,
// matching the bit-exact scheme in spec.md §6:
// "snapshot/<streamId>-<version:20>[_<name>].json".
func SnapshotKey(streamID string, version int, name string) string {
	if name == "" {
		return fmt.Sprintf("snapshot/%s-%0*d.json", streamID, versionWidth, version)
	}
	return fmt.Sprintf("snapshot/%s-%0*d_%s.json", streamID, versionWidth, version, name)
}

// SnapshotPrefix is the listing prefix for every snapshot of streamID.
func SnapshotPrefix(streamID string) string {
	return fmt.Sprintf("snapshot/%s-", streamID)
}

// SetSnapshot is a generic convenience wrapper over SnapshotStore.Set that
// JSON-encodes state before storing it.
func SetSnapshot[T any](ctx context.Context, store SnapshotStore, document *ObjectDocument, version int, name string, state T) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %v", ErrSerialization, err)
	}
	return store.Set(ctx, document, version, name, payload)
}

// GetSnapshot is a generic convenience wrapper over SnapshotStore.Get that
// JSON-decodes the payload into T. found is false when no snapshot exists
// at that key.
func GetSnapshot[T any](ctx context.Context, store SnapshotStore, document *ObjectDocument, version int, name string) (state T, found bool, err error) {
	payload, found, err := store.Get(ctx, document, version, name)
	if err != nil || !found {
		return state, found, err
	}
	if err := json.Unmarshal(payload, &state); err != nil {
		return state, false, fmt.Errorf("%w: decoding snapshot: %v", ErrSerialization, err)
	}
	return state, true, nil
}
