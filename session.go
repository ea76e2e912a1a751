package ges

import (
	"context"
	"fmt"
)

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionBuffering
	sessionCommitting
	sessionCommitted
	sessionFailed
)

// LeasedSession is a single-use write transaction over one stream. It
// buffers appended events in memory, enforces the session's Constraint and
// optimistic concurrency at commit time, and runs pre/post-append actions.
// A LeasedSession is not safe for concurrent use and must not be reused
// after its commit (run by EventStream.Session) returns.
type LeasedSession struct {
	stream          *EventStream
	constraint      Constraint
	expectedVersion int // document.Active.CurrentStreamVersion observed at creation
	buffer          []Event
	state           sessionState
}

func newLeasedSession(stream *EventStream, constraint Constraint) *LeasedSession {
	return &LeasedSession{
		stream:          stream,
		constraint:      constraint,
		expectedVersion: stream.document.Active.CurrentStreamVersion,
		state:           sessionOpen,
	}
}

// AppendOptions carries the optional fields of a single Append call.
type AppendOptions struct {
	ActionMetadata    *ActionMetadata
	OverrideEventType string
	ExternalSequencer string
	Metadata          Metadata
}

// Append validates payload against the stream's EventTypeRegistry, assigns
// it the next version in this session (expectedVersion + 1 + len(buffer)),
// runs every registered PreAppendAction in order, and buffers the result.
// Pre-append actions may mutate the event's payload or metadata but must
// not change its Version.
func (s *LeasedSession) Append(ctx context.Context, payload any, opts AppendOptions) (Event, error) {
	if s.state == sessionCommitted || s.state == sessionFailed {
		return Event{}, ErrSessionClosed
	}
	s.state = sessionBuffering

	encoded, typeName, err := s.stream.actions.types.Encode(payload)
	if err != nil {
		s.state = sessionFailed
		return Event{}, err
	}
	if opts.OverrideEventType != "" {
		typeName = opts.OverrideEventType
	}

	event := Event{
		Payload:           encoded,
		Type:              typeName,
		Version:           s.expectedVersion + 1 + len(s.buffer),
		SchemaVersion:     1,
		ExternalSequencer: opts.ExternalSequencer,
		Action:            opts.ActionMetadata,
		Metadata:          opts.Metadata,
	}

	for _, a := range s.stream.actions.preAppend {
		if err := a(ctx, s.stream.document, &event); err != nil {
			s.state = sessionFailed
			return Event{}, err
		}
	}

	s.buffer = append(s.buffer, event)
	return event, nil
}

// ReadAsync reads events of the underlying stream, with the session's own
// uncommitted buffer appended in version order after whatever is already
// durable.
func (s *LeasedSession) ReadAsync(ctx context.Context, startVersion int, untilVersion *int) ([]Event, error) {
	committed, err := s.stream.dataStore.Read(ctx, s.stream.document, startVersion, nil)
	if err != nil {
		return nil, err
	}
	out := append(committed, s.buffer...) //nolint:gocritic // buffer is owned by this session

	if untilVersion != nil {
		trimmed := out[:0:0]
		for _, e := range out {
			if e.Version <= *untilVersion {
				trimmed = append(trimmed, e)
			}
		}
		out = trimmed
	}
	return out, nil
}

// IsTerminated reports whether streamID is among the bound document's
// terminated streams.
func (s *LeasedSession) IsTerminated(streamID string) bool {
	return s.stream.IsTerminated(streamID)
}

// commit executes the pipeline described in spec.md §4.5 step 5.
func (s *LeasedSession) commit(ctx context.Context) error {
	if s.state == sessionFailed {
		return fmt.Errorf("ges: cannot commit a failed session")
	}
	if len(s.buffer) == 0 {
		s.state = sessionCommitted
		return nil
	}

	s.state = sessionCommitting
	document := s.stream.document

	if document.Active.Quiescing {
		s.state = sessionFailed
		return ErrMigrating
	}
	if err := s.constraint.check(document.Active.CurrentStreamVersion); err != nil {
		s.state = sessionFailed
		return err
	}
	if document.Active.CurrentStreamVersion != s.expectedVersion {
		s.state = sessionFailed
		return &ConcurrencyError{
			ObjectName:      document.ObjectName,
			ObjectID:        document.ObjectID,
			StreamID:        document.Active.StreamIdentifier,
			ExpectedVersion: s.expectedVersion,
			ActualVersion:   document.Active.CurrentStreamVersion,
		}
	}

	if err := s.stream.dataStore.Append(ctx, document, false, s.buffer); err != nil {
		s.state = sessionFailed
		return err
	}

	// The engine must complete the document update past this point even if
	// ctx is cancelled, per spec.md §5 (commit is not cancelable past 5c).
	last := s.buffer[len(s.buffer)-1]
	document.Active.CurrentStreamVersion = last.Version
	document.Active.StreamChunks = PlanAppend(
		document.Active.StreamChunks,
		document.Active.ChunkSettings,
		s.buffer[0].Version,
		len(s.buffer),
	)

	// document.Hash still carries the value observed when this session was
	// created; Set uses it as the concurrency precondition and bumps it to
	// the new persisted hash on success.
	if err := s.stream.documentStore.Set(context.WithoutCancel(ctx), document); err != nil {
		s.state = sessionFailed
		return err
	}

	for _, e := range s.buffer {
		for _, a := range s.stream.actions.postAppend {
			if err := a(ctx, document, e); err != nil {
				// Post-append errors surface to the caller, but the commit
				// itself already happened: events remain durable. The
				// caller must distinguish "committed with side-effect
				// failure" from "not committed" via this error.
				s.state = sessionFailed
				return err
			}
		}
	}

	committed := make([]Event, len(s.buffer))
	copy(committed, s.buffer)
	s.stream.postCommit.Schedule(document, committed, s.stream.actions.postCommit)

	s.state = sessionCommitted
	s.buffer = nil
	return nil
}
