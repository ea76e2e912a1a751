package ges

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Public operations in this package report their
// failure kinds through these (wrapped with context via
// fmt.Errorf("...: %w", ...)), so callers can dispatch with
// errors.Is/errors.As. A few paths return plain errors that match none of
// them, e.g. committing an already-failed session.
var (
	// ErrNotFound indicates a document or snapshot does not exist.
	ErrNotFound = errors.New("ges: not found")

	// ErrConcurrency indicates an optimistic-concurrency conflict at the
	// stream or document level. The caller must reload and retry.
	ErrConcurrency = errors.New("ges: concurrency conflict")

	// ErrConstraint indicates a session Constraint was violated
	// (New on a non-empty stream, or Existing on an empty one).
	ErrConstraint = errors.New("ges: constraint violated")

	// ErrStreamIntegrity indicates a version gap or out-of-order event was
	// observed on read. This is fatal for the stream and requires repair.
	ErrStreamIntegrity = errors.New("ges: stream integrity violation")

	// ErrSerialization indicates an event or snapshot payload failed to
	// encode or decode against its registered type.
	ErrSerialization = errors.New("ges: serialization failed")

	// ErrTransient indicates a retryable backend error (timeout, throttle,
	// dropped connection).
	ErrTransient = errors.New("ges: transient backend error")

	// ErrDocumentConfiguration indicates a missing connection, invalid
	// chunk layout, or unresolved backend on a document.
	ErrDocumentConfiguration = errors.New("ges: invalid document configuration")

	// ErrMigrating indicates a write was rejected because the stream is in
	// the quiesce/close phase of a live migration.
	ErrMigrating = errors.New("ges: stream is migrating")

	// ErrMalformedToken indicates a VersionToken failed to parse.
	ErrMalformedToken = errors.New("ges: malformed version token")

	// ErrCancelled indicates cooperative cancellation of a long-running
	// operation.
	ErrCancelled = errors.New("ges: cancelled")

	// ErrBackupValidation indicates a backup checksum or shape mismatch.
	ErrBackupValidation = errors.New("ges: backup validation failed")

	// ErrSessionClosed indicates Append was called on a LeasedSession past
	// commit.
	ErrSessionClosed = errors.New("ges: session already closed")
)

// ConcurrencyError carries structured detail about an optimistic-concurrency
// conflict, matching the teacher library's VersionConflictError shape.
type ConcurrencyError struct {
	ObjectName      string
	ObjectID        string
	StreamID        string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("ges: concurrency conflict on %s/%s stream %s: expected=%d actual=%d",
		e.ObjectName, e.ObjectID, e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is allows errors.Is(err, ErrConcurrency) to match.
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// ConstraintError reports which Constraint was violated and why.
type ConstraintError struct {
	Constraint Constraint
	Reason     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("ges: constraint %s violated: %s", e.Constraint, e.Reason)
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// StreamIntegrityError reports the version at which a gap or disorder was found.
type StreamIntegrityError struct {
	StreamID     string
	ExpectedNext int
	Got          int
}

func (e *StreamIntegrityError) Error() string {
	return fmt.Sprintf("ges: stream %s integrity violation: expected version %d, got %d",
		e.StreamID, e.ExpectedNext, e.Got)
}

func (e *StreamIntegrityError) Is(target error) bool { return target == ErrStreamIntegrity }

// MalformedTokenError reports the raw input that failed to parse.
type MalformedTokenError struct {
	Input  string
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("ges: malformed version token %q: %s", e.Input, e.Reason)
}

func (e *MalformedTokenError) Is(target error) bool { return target == ErrMalformedToken }
