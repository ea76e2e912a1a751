package ges

import "context"

// ObjectDocumentStore persists ObjectDocument metadata records, keyed by
// (objectName, objectId). Implementations must normalize objectName to
// lower case for container/partition keying (NormalizedObjectName) while
// preserving the original-case form for display.
type ObjectDocumentStore interface {
	// Get returns the document for (objectName, objectId), or ErrNotFound.
	Get(ctx context.Context, objectName, objectID string) (*ObjectDocument, error)

	// GetOrCreate returns the existing document, or atomically creates one
	// with a deterministically derived active stream identifier. Concurrent
	// first-creates for the same (objectName, objectId) must converge to
	// the same active stream identifier.
	GetOrCreate(ctx context.Context, objectName, objectID string) (*ObjectDocument, error)

	// Set persists document. document.Hash must still carry the value the
	// caller last observed (from Get/GetOrCreate/a prior Set) — it is the
	// optimistic-concurrency precondition, not the new value. On a backend
	// that supports native etags that precondition is used instead. On
	// success, Set recomputes the persisted hash and writes it back into
	// document.Hash. On precondition mismatch, Set returns a
	// *ConcurrencyError and leaves document unmodified.
	Set(ctx context.Context, document *ObjectDocument) error

	// GetFirstByTag returns one objectId carrying the given document tag,
	// or ErrNotFound.
	GetFirstByTag(ctx context.Context, objectName, tag string) (string, error)

	// GetByTag returns every objectId carrying the given document tag.
	GetByTag(ctx context.Context, objectName, tag string) ([]string, error)
}

// DataStore appends to and reads from the event stream of a document,
// honoring its chunk layout.
type DataStore interface {
	// Append writes events to document's active stream atomically at the
	// chunk level. If the backend cannot express chunk-wide atomicity, it
	// must write one-by-one in increasing version order and treat any gap
	// left by a partial failure as authoritative, refusing further writes
	// until repaired. An empty events batch is a no-op.
	//
	// preserveTimestamp is used by live migration to carry over the
	// source's original event timestamps instead of stamping "now".
	Append(ctx context.Context, document *ObjectDocument, preserveTimestamp bool, events []Event) error

	// Read returns events with startVersion <= v <= untilVersion (inclusive)
	// in ascending version order. untilVersion == nil means "through head".
	// A nil events slice with a nil error means the stream does not yet
	// exist; a non-nil, possibly empty slice means it does.
	Read(ctx context.Context, document *ObjectDocument, startVersion int, untilVersion *int) ([]Event, error)

	// ReadAsStream produces a lazy, restartable sequence with identical
	// ordering semantics to Read, for callers that want to avoid buffering
	// an entire range in memory.
	ReadAsStream(ctx context.Context, document *ObjectDocument, startVersion int, untilVersion *int) (EventIterator, error)
}

// EventIterator is a restartable, lazy sequence of events in ascending
// version order. Next returns (Event{}, false, nil) when exhausted.
type EventIterator interface {
	Next(ctx context.Context) (Event, bool, error)
	Close() error
}

// SnapshotStore stores, loads, lists, and deletes aggregate snapshots at
// specific versions.
type SnapshotStore interface {
	// Set overwrites the snapshot at (document, version, name).
	Set(ctx context.Context, document *ObjectDocument, version int, name string, payload []byte) error

	// Get loads the raw snapshot payload at (document, version, name), or
	// returns found=false if absent.
	Get(ctx context.Context, document *ObjectDocument, version int, name string) (payload []byte, found bool, err error)

	// ListSnapshots returns metadata for every snapshot of document,
	// sorted by version descending.
	ListSnapshots(ctx context.Context, document *ObjectDocument) ([]SnapshotMetadata, error)

	// Delete removes the snapshot at (document, version, name). It returns
	// false (not an error) if no such snapshot existed.
	Delete(ctx context.Context, document *ObjectDocument, version int, name string) (bool, error)

	// DeleteMany removes the snapshots at the given versions (name ""),
	// returning the count actually deleted.
	DeleteMany(ctx context.Context, document *ObjectDocument, versions []int) (int, error)
}

// DocumentTagStore is a reverse index from document tag to objectId.
// Reads may be momentarily stale with respect to recent writes; this is an
// accepted tradeoff of keeping tag indexes as a separate, independently
// consistent store.
type DocumentTagStore interface {
	Tag(ctx context.Context, objectName, objectID, tag string) error
	Untag(ctx context.Context, objectName, objectID, tag string) error
	GetFirstByTag(ctx context.Context, objectName, tag string) (string, error)
	GetByTag(ctx context.Context, objectName, tag string) ([]string, error)
}

// StreamTagStore is a reverse index from stream tag to streamId, used to
// locate streams independent of their owning document (e.g. during
// migration bookkeeping).
type StreamTagStore interface {
	Tag(ctx context.Context, streamID, tag string) error
	Untag(ctx context.Context, streamID, tag string) error
	GetFirstByTag(ctx context.Context, tag string) (string, error)
	GetByTag(ctx context.Context, tag string) ([]string, error)
}
