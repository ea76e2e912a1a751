package ges

import "context"

// PreAppendAction runs, in registration order, against every event buffered
// by a LeasedSession.Append call before it is added to the buffer. It may
// mutate the event's payload or metadata but must not change Version.
type PreAppendAction func(ctx context.Context, document *ObjectDocument, event *Event) error

// PostAppendAction runs inline, in registration order, once per
// successfully committed event, after the document update in step 5e of
// the commit pipeline.
type PostAppendAction func(ctx context.Context, document *ObjectDocument, event Event) error

// PostCommitAction runs asynchronously, after commit() has already
// returned to the caller, against the full batch of events committed in
// one session. Its errors never abort the commit; see PostCommitExecutor.
type PostCommitAction struct {
	Name string
	Run  func(ctx context.Context, document *ObjectDocument, events []Event) error
}

// PreReadAction runs before EventStream.Read dispatches to the DataStore,
// e.g. to adjust startVersion/untilVersion or enforce authorization.
type PreReadAction func(ctx context.Context, document *ObjectDocument, startVersion int, untilVersion *int) error

// PostReadAction runs after EventStream.Read has loaded events, e.g. to
// filter or annotate them before they reach the caller.
type PostReadAction func(ctx context.Context, document *ObjectDocument, events []Event) ([]Event, error)

// actionRegistry holds every action kind an EventStream may run, plus the
// EventTypeRegistry used to validate and encode appended payloads.
type actionRegistry struct {
	types EventTypeRegistry

	preRead      []PreReadAction
	postRead     []PostReadAction
	preAppend    []PreAppendAction
	postAppend   []PostAppendAction
	postCommit   []PostCommitAction
}
