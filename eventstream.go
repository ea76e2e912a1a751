package ges

import (
	"context"
	"fmt"
	"log/slog"
)

// EventStream composes an ObjectDocumentStore, DataStore, SnapshotStore,
// and tag stores behind the read/leased-session/snapshot surface described
// in spec.md §4.5. One EventStream is bound to one ObjectDocument for its
// lifetime; callers obtain a fresh EventStream (via a Factory) whenever
// they need an up-to-date view of the document.
type EventStream struct {
	document *ObjectDocument

	documentStore ObjectDocumentStore
	dataStore     DataStore
	snapshots     SnapshotStore
	documentTags  DocumentTagStore
	streamTags    StreamTagStore

	postCommit *PostCommitExecutor
	logger     *slog.Logger

	actions actionRegistry
}

// Factory constructs an EventStream bound to the document identified by
// (objectName, objectId), creating the document if it does not yet exist.
type Factory struct {
	DocumentStore ObjectDocumentStore
	DataStore     DataStore
	Snapshots     SnapshotStore
	DocumentTags  DocumentTagStore
	StreamTags    StreamTagStore
	Logger        *slog.Logger

	// PostCommit configures the post-commit retry policy shared by every
	// EventStream this factory produces. A zero value uses the defaults
	// from spec.md §4.6.
	PostCommit PostCommitOptions
}

// Open returns an EventStream bound to (objectName, objectId), loading or
// creating the backing ObjectDocument as needed.
func (f *Factory) Open(ctx context.Context, objectName, objectID string) (*EventStream, error) {
	document, err := f.DocumentStore.GetOrCreate(ctx, objectName, objectID)
	if err != nil {
		return nil, fmt.Errorf("ges: opening event stream for %s/%s: %w", objectName, objectID, err)
	}
	return f.bind(document), nil
}

// OpenDocument returns an EventStream bound to an already-loaded document,
// without a round-trip to the document store. Useful when the caller has
// just performed an operation (e.g. migration) that mutated the document
// in place.
func (f *Factory) OpenDocument(document *ObjectDocument) *EventStream {
	return f.bind(document)
}

func (f *Factory) bind(document *ObjectDocument) *EventStream {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStream{
		document:      document,
		documentStore: f.DocumentStore,
		dataStore:     f.DataStore,
		snapshots:     f.Snapshots,
		documentTags:  f.DocumentTags,
		streamTags:    f.StreamTags,
		postCommit:    NewPostCommitExecutor(f.PostCommit, logger),
		logger:        logger,
	}
}

// Document returns the ObjectDocument this stream is bound to. The value is
// a snapshot owned by the caller; the engine re-reads as needed for
// concurrency checks rather than mutating this instance concurrently.
func (es *EventStream) Document() *ObjectDocument { return es.document }

// SnapshotStore returns the backing SnapshotStore, for use with the
// package-level generic SetSnapshot/GetSnapshot helpers.
func (es *EventStream) SnapshotStore() SnapshotStore { return es.snapshots }

// RegisterEventType registers the codec for a domain event type, used to
// validate/encode payloads appended through a LeasedSession. Read returns
// raw events; it does not decode payloads through the registry.
func (es *EventStream) RegisterEventType(typeName string, codec EventCodec) {
	es.actions.types.Register(typeName, codec)
}

// RegisterPreAppendAction adds a pre-append action, run in registration
// order against every buffered event before it is appended to the session
// buffer.
func (es *EventStream) RegisterPreAppendAction(a PreAppendAction) {
	es.actions.preAppend = append(es.actions.preAppend, a)
}

// RegisterPostAppendAction adds an inline post-append action, run in
// registration order once per committed event.
func (es *EventStream) RegisterPostAppendAction(a PostAppendAction) {
	es.actions.postAppend = append(es.actions.postAppend, a)
}

// RegisterPostCommitAction adds an async post-commit action, retried
// through the PostCommitExecutor after commit returns to the caller.
func (es *EventStream) RegisterPostCommitAction(a PostCommitAction) {
	es.actions.postCommit = append(es.actions.postCommit, a)
}

// RegisterPreReadAction adds a pre-read action, run before Read dispatches
// to the DataStore.
func (es *EventStream) RegisterPreReadAction(a PreReadAction) {
	es.actions.preRead = append(es.actions.preRead, a)
}

// RegisterPostReadAction adds a post-read action, run after Read has
// loaded events from the DataStore.
func (es *EventStream) RegisterPostReadAction(a PostReadAction) {
	es.actions.postRead = append(es.actions.postRead, a)
}

// Read returns events of the active stream with startVersion <= v <=
// untilVersion (untilVersion == nil means "through head"), strictly
// increasing with no gaps. A gap is reported as *StreamIntegrityError.
func (es *EventStream) Read(ctx context.Context, startVersion int, untilVersion *int) ([]Event, error) {
	for _, a := range es.actions.preRead {
		if err := a(ctx, es.document, startVersion, untilVersion); err != nil {
			return nil, err
		}
	}

	events, err := es.dataStore.Read(ctx, es.document, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	if err := checkContiguous(es.document.Active.StreamIdentifier, startVersion, events); err != nil {
		return nil, err
	}

	for _, a := range es.actions.postRead {
		events, err = a(ctx, es.document, events)
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// IsTerminated reports whether streamID appears in the document's
// terminated-streams history.
func (es *EventStream) IsTerminated(streamID string) bool {
	for _, t := range es.document.TerminatedStreams {
		if t.StreamIdentifier == streamID {
			return true
		}
	}
	return false
}

// Session runs body against a fresh LeasedSession bound to this stream's
// document, then commits the buffered events under constraint. The
// LeasedSession passed to body is single-use: it must not be retained or
// used after Session returns.
func (es *EventStream) Session(ctx context.Context, constraint Constraint, body func(ctx context.Context, session *LeasedSession) error) error {
	session := newLeasedSession(es, constraint)
	if err := body(ctx, session); err != nil {
		session.state = sessionFailed
		return err
	}
	return session.commit(ctx)
}

func checkContiguous(streamID string, startVersion int, events []Event) error {
	expected := startVersion
	for _, e := range events {
		if e.Version != expected {
			return &StreamIntegrityError{StreamID: streamID, ExpectedNext: expected, Got: e.Version}
		}
		expected++
	}
	return nil
}
