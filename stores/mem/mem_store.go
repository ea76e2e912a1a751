// Package mem provides in-memory implementations of ges.DataStore,
// ges.ObjectDocumentStore (with ges.DocumentTagStore) and ges.SnapshotStore;
// it has no StreamTagStore. It is concurrency-safe and suitable for tests, prototypes, and
// local runs; nothing here survives process restart.
package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ges/ges"
)

type streamKey struct {
	objectName string
	streamID   string
}

// DataStore is an in-memory ges.DataStore.
type DataStore struct {
	mu      sync.RWMutex
	streams map[streamKey][]ges.Event
}

// NewDataStore builds an empty in-memory DataStore.
func NewDataStore() *DataStore {
	return &DataStore{streams: make(map[streamKey][]ges.Event)}
}

func keyOf(document *ges.ObjectDocument) streamKey {
	return streamKey{objectName: ges.NormalizedObjectName(document.ObjectName), streamID: document.Active.StreamIdentifier}
}

// Append implements ges.DataStore. preserveTimestamp has no effect here
// since mem events carry no separate wall-clock field beyond what the
// caller already set on Event.Metadata/Action.
//
// A version below what's already stored means another writer won the race
// to append first: that's a concurrency conflict, not an integrity fault,
// since the caller reserved its version range from a document snapshot
// that's now stale. A version above it is a genuine gap and stays
// ErrStreamIntegrity.
func (s *DataStore) Append(_ context.Context, document *ges.ObjectDocument, _ bool, events []ges.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(document)
	existing := s.streams[k]
	expectedNext := len(existing)
	for _, e := range events {
		if e.Version < expectedNext {
			return &ges.ConcurrencyError{
				ObjectName:      document.ObjectName,
				ObjectID:        document.ObjectID,
				StreamID:        document.Active.StreamIdentifier,
				ExpectedVersion: e.Version - 1,
				ActualVersion:   expectedNext - 1,
			}
		}
		if e.Version != expectedNext {
			return fmt.Errorf("%w: expected version %d, got %d", ges.ErrStreamIntegrity, expectedNext, e.Version)
		}
		expectedNext++
	}
	s.streams[k] = append(existing, events...)
	return nil
}

// Read implements ges.DataStore.
func (s *DataStore) Read(_ context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) ([]ges.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := keyOf(document)
	all, ok := s.streams[k]
	if !ok {
		return nil, nil
	}

	until := len(all) - 1
	if untilVersion != nil && *untilVersion < until {
		until = *untilVersion
	}
	if startVersion > until {
		return []ges.Event{}, nil
	}
	if startVersion < 0 {
		startVersion = 0
	}

	out := make([]ges.Event, 0, until-startVersion+1)
	for v := startVersion; v <= until; v++ {
		out = append(out, all[v])
	}
	return out, nil
}

// ReadAsStream implements ges.DataStore with a simple slice-backed iterator.
func (s *DataStore) ReadAsStream(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) (ges.EventIterator, error) {
	events, err := s.Read(ctx, document, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{events: events}, nil
}

type sliceIterator struct {
	events []ges.Event
	pos    int
}

func (it *sliceIterator) Next(context.Context) (ges.Event, bool, error) {
	if it.pos >= len(it.events) {
		return ges.Event{}, false, nil
	}
	e := it.events[it.pos]
	it.pos++
	return e, true, nil
}

func (it *sliceIterator) Close() error { return nil }

var _ ges.DataStore = (*DataStore)(nil)

// DocumentStore is an in-memory ges.ObjectDocumentStore.
type DocumentStore struct {
	mu      sync.RWMutex
	byID    map[string]*ges.ObjectDocument
	byTag   map[string]map[string]struct{} // tag -> set of objectId
}

// NewDocumentStore builds an empty in-memory DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		byID:  make(map[string]*ges.ObjectDocument),
		byTag: make(map[string]map[string]struct{}),
	}
}

func docKey(objectName, objectID string) string {
	return ges.NormalizedObjectName(objectName) + "\x00" + objectID
}

// Get implements ges.ObjectDocumentStore.
func (d *DocumentStore) Get(_ context.Context, objectName, objectID string) (*ges.ObjectDocument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.byID[docKey(objectName, objectID)]
	if !ok {
		return nil, ges.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// GetOrCreate implements ges.ObjectDocumentStore. The active stream
// identifier is derived deterministically from objectId so concurrent
// first-creates converge.
func (d *DocumentStore) GetOrCreate(_ context.Context, objectName, objectID string) (*ges.ObjectDocument, error) {
	key := docKey(objectName, objectID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.byID[key]; ok {
		cp := *doc
		return &cp, nil
	}

	doc := &ges.ObjectDocument{
		ObjectName:    objectName,
		ObjectID:      objectID,
		SchemaVersion: 1,
		Active: ges.StreamInformation{
			StreamIdentifier:     deriveStreamID(objectName, objectID),
			StreamType:           "mem",
			CurrentStreamVersion: -1,
		},
	}
	hash, err := doc.Hash()
	if err != nil {
		return nil, err
	}
	doc.Hash = hash
	d.byID[key] = doc

	cp := *doc
	return &cp, nil
}

func deriveStreamID(objectName, objectID string) string {
	return strings.ToLower(objectName) + ":" + objectID
}

// Set implements ges.ObjectDocumentStore. document.Hash is the precondition
// (the hash the caller last observed); on success it is rewritten to the
// newly persisted hash.
func (d *DocumentStore) Set(_ context.Context, document *ges.ObjectDocument) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := docKey(document.ObjectName, document.ObjectID)
	if existing, ok := d.byID[key]; ok && existing.Hash != document.Hash {
		return &ges.ConcurrencyError{
			ObjectName: document.ObjectName,
			ObjectID:   document.ObjectID,
			StreamID:   document.Active.StreamIdentifier,
		}
	}

	newHash, err := document.Hash()
	if err != nil {
		return err
	}
	document.Hash = newHash

	cp := *document
	d.byID[key] = &cp
	return nil
}

// GetFirstByTag implements ges.ObjectDocumentStore.
func (d *DocumentStore) GetFirstByTag(ctx context.Context, objectName, tag string) (string, error) {
	ids, err := d.GetByTag(ctx, objectName, tag)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ges.ErrNotFound
	}
	return ids[0], nil
}

// GetByTag implements ges.ObjectDocumentStore.
func (d *DocumentStore) GetByTag(_ context.Context, objectName, tag string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.byTag[tagKey(objectName, tag)]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Tag implements ges.DocumentTagStore.
func (d *DocumentStore) Tag(_ context.Context, objectName, objectID, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := tagKey(objectName, tag)
	if d.byTag[k] == nil {
		d.byTag[k] = make(map[string]struct{})
	}
	d.byTag[k][objectID] = struct{}{}
	return nil
}

// Untag implements ges.DocumentTagStore.
func (d *DocumentStore) Untag(_ context.Context, objectName, objectID, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.byTag[tagKey(objectName, tag)]
	if ok {
		delete(set, objectID)
	}
	return nil
}

func tagKey(objectName, tag string) string {
	return ges.NormalizedObjectName(objectName) + "\x00" + tag
}

var _ ges.ObjectDocumentStore = (*DocumentStore)(nil)
var _ ges.DocumentTagStore = (*DocumentStore)(nil)

// SnapshotStore is an in-memory ges.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // streamID -> snapshot key -> payload
	meta map[string]map[string]ges.SnapshotMetadata
}

// NewSnapshotStore builds an empty in-memory SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]map[string][]byte),
		meta: make(map[string]map[string]ges.SnapshotMetadata),
	}
}

func snapKey(version int, name string) string {
	return fmt.Sprintf("%020d_%s", version, name)
}

// Set implements ges.SnapshotStore.
func (s *SnapshotStore) Set(_ context.Context, document *ges.ObjectDocument, version int, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamID := document.Active.StreamIdentifier
	if s.data[streamID] == nil {
		s.data[streamID] = make(map[string][]byte)
		s.meta[streamID] = make(map[string]ges.SnapshotMetadata)
	}
	k := snapKey(version, name)
	s.data[streamID][k] = payload
	s.meta[streamID][k] = ges.SnapshotMetadata{Version: version, Name: name, SizeBytes: int64(len(payload))}
	return nil
}

// Get implements ges.SnapshotStore.
func (s *SnapshotStore) Get(_ context.Context, document *ges.ObjectDocument, version int, name string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[document.Active.StreamIdentifier]
	if !ok {
		return nil, false, nil
	}
	payload, ok := m[snapKey(version, name)]
	return payload, ok, nil
}

// ListSnapshots implements ges.SnapshotStore, sorted by version descending.
func (s *SnapshotStore) ListSnapshots(_ context.Context, document *ges.ObjectDocument) ([]ges.SnapshotMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[document.Active.StreamIdentifier]
	if !ok {
		return nil, nil
	}
	out := make([]ges.SnapshotMetadata, 0, len(m))
	for _, meta := range m {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Delete implements ges.SnapshotStore.
func (s *SnapshotStore) Delete(_ context.Context, document *ges.ObjectDocument, version int, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[document.Active.StreamIdentifier]
	if !ok {
		return false, nil
	}
	k := snapKey(version, name)
	if _, ok := m[k]; !ok {
		return false, nil
	}
	delete(m, k)
	delete(s.meta[document.Active.StreamIdentifier], k)
	return true, nil
}

// DeleteMany implements ges.SnapshotStore.
func (s *SnapshotStore) DeleteMany(ctx context.Context, document *ges.ObjectDocument, versions []int) (int, error) {
	count := 0
	for _, v := range versions {
		ok, err := s.Delete(ctx, document, v, "")
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

var _ ges.SnapshotStore = (*SnapshotStore)(nil)
