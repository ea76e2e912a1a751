package ges

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// ObjectDocument is the per-entity metadata record: the active stream, any
// terminated predecessor streams, and the schema version of the document
// itself.
type ObjectDocument struct {
	ObjectName    string
	ObjectID      string
	SchemaVersion int

	// Hash is the content hash of the last-persisted form of this document,
	// used for optimistic concurrency when the backend has no native etag.
	// See Hash() for the canonical computation.
	Hash string

	Active            StreamInformation
	TerminatedStreams []TerminatedStream
}

// StreamInformation describes the currently-active incarnation of a
// document's stream.
type StreamInformation struct {
	StreamIdentifier     string
	StreamType           string // e.g. "blob", "cosmosdb", "table"
	CurrentStreamVersion int    // -1 when empty

	DataStoreConnection         string
	SnapshotStoreConnection     string
	DocumentTagStoreConnection  string
	StreamTagStoreConnection    string

	ChunkSettings StreamChunkSettings
	StreamChunks  []StreamChunk

	// Quiescing is set by the live-migration executor during QuiesceSource;
	// while true, committing a LeasedSession fails with ErrMigrating.
	Quiescing bool
}

// TerminatedStream records a previously-active stream that has been closed,
// typically by a live migration.
type TerminatedStream struct {
	StreamIdentifier string
	StreamVersion    int
	TerminationDate  time.Time
	Reason           string
}

// StreamChunkSettings controls whether and how a stream is subdivided into
// bounded chunks.
type StreamChunkSettings struct {
	EnableChunks bool
	ChunkSize    int
}

// StreamChunk describes one contiguous slice of a stream's version space.
// LastVersion is -1 for the open (still-accepting-writes) chunk.
type StreamChunk struct {
	ChunkID      int
	FirstVersion int
	LastVersion  int // -1 when open
}

// IsOpen reports whether c is the open chunk.
func (c StreamChunk) IsOpen() bool { return c.LastVersion == -1 }

// Contains reports whether version v falls within c, treating an open
// chunk's upper bound as unbounded.
func (c StreamChunk) Contains(v int) bool {
	if v < c.FirstVersion {
		return false
	}
	if c.IsOpen() {
		return true
	}
	return v <= c.LastVersion
}

// documentHashable is the canonical subset of ObjectDocument over which the
// content hash is computed; Hash itself is excluded.
type documentHashable struct {
	ObjectName        string
	ObjectID          string
	SchemaVersion     int
	Active            StreamInformation
	TerminatedStreams []TerminatedStream
}

// Hash computes the SHA-256 hex digest of d's canonical JSON form, excluding
// the Hash field itself. Backends that lack a native etag use this to
// implement optimistic concurrency on ObjectDocumentStore.Set.
func (d *ObjectDocument) Hash() (string, error) {
	canonical, err := json.Marshal(documentHashable{
		ObjectName:        d.ObjectName,
		ObjectID:          d.ObjectID,
		SchemaVersion:     d.SchemaVersion,
		Active:            d.Active,
		TerminatedStreams: d.TerminatedStreams,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizedObjectName lower-cases name for use as a container/partition
// key. Display/storage of the original-case form is the caller's
// responsibility; this function governs keying only.
func NormalizedObjectName(name string) string {
	return strings.ToLower(name)
}

// PlanAppend computes the StreamChunk layout update for appending n events
// to a stream currently at settings/chunks, starting at firstNewVersion
// (the version of the first newly appended event). It returns the updated
// chunk slice; callers apply it to StreamInformation.StreamChunks.
//
// When settings.EnableChunks is false, chunks is returned unmodified (a
// single implicit, unbounded chunk is assumed and never materialized).
func PlanAppend(chunks []StreamChunk, settings StreamChunkSettings, firstNewVersion, n int) []StreamChunk {
	if !settings.EnableChunks || n == 0 {
		return chunks
	}

	out := make([]StreamChunk, len(chunks))
	copy(out, chunks)

	nextChunkID := 0
	if len(out) > 0 {
		nextChunkID = out[len(out)-1].ChunkID + 1
	}
	openIdx := -1
	if len(out) > 0 && out[len(out)-1].IsOpen() {
		openIdx = len(out) - 1
	}
	if openIdx == -1 {
		out = append(out, StreamChunk{ChunkID: nextChunkID, FirstVersion: firstNewVersion, LastVersion: -1})
		openIdx = len(out) - 1
		nextChunkID++
	}

	for v := firstNewVersion; v < firstNewVersion+n; v++ {
		size := v - out[openIdx].FirstVersion + 1
		if size > settings.ChunkSize {
			// Close current chunk at v-1, open a fresh one starting at v.
			out[openIdx].LastVersion = v - 1
			out = append(out, StreamChunk{ChunkID: nextChunkID, FirstVersion: v, LastVersion: -1})
			openIdx = len(out) - 1
			nextChunkID++
		}
	}
	return out
}

// ChunkFor returns the chunk containing version v, if any.
func ChunkFor(chunks []StreamChunk, v int) (StreamChunk, bool) {
	for _, c := range chunks {
		if c.Contains(v) {
			return c, true
		}
	}
	return StreamChunk{}, false
}
