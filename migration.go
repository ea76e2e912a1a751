package ges

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// StreamClosedEventType is the well-known event type written at the tail of
// a migrated source stream.
const StreamClosedEventType = "StreamClosed"

// StreamClosedEvent marks that a stream is no longer authoritative. It is
// written directly by the MigrationExecutor (bypassing the
// EventTypeRegistry, since every backend must be able to recognize this
// type without caller registration) and is never copied to a migration
// target.
type StreamClosedEvent struct {
	Reason   string    `json:"reason"`
	ClosedAt time.Time `json:"closedAt"`
}

// LiveMigrationOptions bounds the copy loop in spec.md §4.7.
type LiveMigrationOptions struct {
	BatchSize         int
	MaxIterations     int
	MinDeltaThreshold int
}

func (o LiveMigrationOptions) withDefaults() LiveMigrationOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.MinDeltaThreshold < 0 {
		o.MinDeltaThreshold = 0
	}
	return o
}

// LiveMigrationContext names the source and target of a live migration.
// SourceDocument and TargetDocument represent the same logical entity:
// SourceDocument is the document as it stands today (active stream on the
// old backend); TargetDocument carries the freshly-provisioned stream
// information on the new backend that will become active on success.
type LiveMigrationContext struct {
	MigrationID string

	SourceDocument *ObjectDocument
	TargetDocument *ObjectDocument

	SourceStreamID string
	TargetStreamID string

	Options LiveMigrationOptions

	SourceDataStore DataStore
	TargetDataStore DataStore
	DocumentStore   ObjectDocumentStore
}

// LiveMigrationProgress is reported after each CopyLoop iteration.
type LiveMigrationProgress struct {
	Iteration                 int
	EventsCopiedThisIteration int
	TotalEventsCopied         int
	SourceVersion             int
	TargetVersion             int
}

// LiveMigrationResult is the terminal outcome of a migration run.
type LiveMigrationResult struct {
	Success           bool
	SourceStreamID    string
	TargetStreamID    string
	TotalEventsCopied int
	Iterations        int
	Error             error
}

// MigrationExecutor drives the live-migration state machine described in
// spec.md §4.7: CopyLoop -> ConvergenceCheck -> QuiesceSource -> FinalCopy
// -> CloseSource -> Done, with any step able to fail into Failed.
type MigrationExecutor struct {
	logger *slog.Logger
}

// NewMigrationExecutor builds an executor; a nil logger uses slog.Default().
func NewMigrationExecutor(logger *slog.Logger) *MigrationExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationExecutor{logger: logger}
}

// Run executes mc to completion or failure. progress may be nil.
//
// Cancellation before CloseSource leaves the source authoritative and
// returns a result with Error wrapping ErrCancelled. Once CloseSource has
// run, the migration is no longer cancelable and always completes.
func (m *MigrationExecutor) Run(ctx context.Context, mc *LiveMigrationContext, progress func(LiveMigrationProgress)) (*LiveMigrationResult, error) {
	opts := mc.Options.withDefaults()

	nextVersion := mc.TargetDocument.Active.CurrentStreamVersion + 1
	totalCopied := 0
	iteration := 0

	for {
		if err := ctx.Err(); err != nil {
			return m.fail(mc, totalCopied, iteration, fmt.Errorf("%w: %v", ErrCancelled, err))
		}
		iteration++

		sourceVersionBeforeIteration := mc.SourceDocument.Active.CurrentStreamVersion

		limit := nextVersion + opts.BatchSize - 1
		events, err := mc.SourceDataStore.Read(ctx, mc.SourceDocument, nextVersion, &limit)
		if err != nil {
			return m.fail(mc, totalCopied, iteration, err)
		}

		copiedThisIteration := len(events)
		if copiedThisIteration > 0 {
			if err := mc.TargetDataStore.Append(ctx, mc.TargetDocument, true, events); err != nil {
				return m.fail(mc, totalCopied, iteration, err)
			}
			nextVersion = events[len(events)-1].Version + 1
			mc.TargetDocument.Active.CurrentStreamVersion = events[len(events)-1].Version
			mc.TargetDocument.Active.StreamChunks = PlanAppend(
				mc.TargetDocument.Active.StreamChunks,
				mc.TargetDocument.Active.ChunkSettings,
				events[0].Version,
				len(events),
			)
		}
		totalCopied += copiedThisIteration

		if progress != nil {
			progress(LiveMigrationProgress{
				Iteration:                 iteration,
				EventsCopiedThisIteration: copiedThisIteration,
				TotalEventsCopied:         totalCopied,
				SourceVersion:             mc.SourceDocument.Active.CurrentStreamVersion,
				TargetVersion:             mc.TargetDocument.Active.CurrentStreamVersion,
			})
		}

		// ConvergenceCheck: reload the source document to see if new
		// events landed while we were copying this iteration's batch.
		reloaded, err := mc.DocumentStore.Get(ctx, mc.SourceDocument.ObjectName, mc.SourceDocument.ObjectID)
		if err != nil {
			return m.fail(mc, totalCopied, iteration, err)
		}
		mc.SourceDocument = reloaded

		delta := mc.SourceDocument.Active.CurrentStreamVersion - sourceVersionBeforeIteration
		if delta <= opts.MinDeltaThreshold || iteration >= opts.MaxIterations {
			break
		}
		// stale: loop back to CopyLoop
	}

	if err := ctx.Err(); err != nil {
		return m.fail(mc, totalCopied, iteration, fmt.Errorf("%w: %v", ErrCancelled, err))
	}

	// QuiesceSource: new commits against the source now fail with
	// ErrMigrating.
	mc.SourceDocument.Active.Quiescing = true
	if err := mc.DocumentStore.Set(ctx, mc.SourceDocument); err != nil {
		return m.fail(mc, totalCopied, iteration, err)
	}

	if err := ctx.Err(); err != nil {
		return m.fail(mc, totalCopied, iteration, fmt.Errorf("%w: %v", ErrCancelled, err))
	}

	// FinalCopy: drain whatever landed between the last ConvergenceCheck
	// and the quiesce taking effect.
	tail, err := mc.SourceDataStore.Read(ctx, mc.SourceDocument, nextVersion, nil)
	if err != nil {
		return m.fail(mc, totalCopied, iteration, err)
	}
	if len(tail) > 0 {
		if err := mc.TargetDataStore.Append(ctx, mc.TargetDocument, true, tail); err != nil {
			return m.fail(mc, totalCopied, iteration, err)
		}
		nextVersion = tail[len(tail)-1].Version + 1
		mc.TargetDocument.Active.CurrentStreamVersion = tail[len(tail)-1].Version
		mc.TargetDocument.Active.StreamChunks = PlanAppend(
			mc.TargetDocument.Active.StreamChunks,
			mc.TargetDocument.Active.ChunkSettings,
			tail[0].Version,
			len(tail),
		)
		totalCopied += len(tail)
	}

	// CloseSource: past this point the migration is not reversible. The
	// engine commits to completion even under cancellation.
	closePayload, err := json.Marshal(StreamClosedEvent{
		Reason:   fmt.Sprintf("migrated to stream %s", mc.TargetStreamID),
		ClosedAt: time.Now(),
	})
	if err != nil {
		return m.fail(mc, totalCopied, iteration, err)
	}
	closeVersion := mc.SourceDocument.Active.CurrentStreamVersion + 1
	closeEvent := Event{Payload: closePayload, Type: StreamClosedEventType, Version: closeVersion, SchemaVersion: 1}
	if err := mc.SourceDataStore.Append(context.WithoutCancel(ctx), mc.SourceDocument, false, []Event{closeEvent}); err != nil {
		return m.fail(mc, totalCopied, iteration, err)
	}

	final := *mc.SourceDocument
	final.TerminatedStreams = append(append([]TerminatedStream{}, mc.SourceDocument.TerminatedStreams...), TerminatedStream{
		StreamIdentifier: mc.SourceStreamID,
		StreamVersion:    closeVersion,
		TerminationDate:  time.Now(),
		Reason:           fmt.Sprintf("live migration %s to %s", mc.MigrationID, mc.TargetStreamID),
	})
	final.Active = mc.TargetDocument.Active
	final.Active.Quiescing = false
	final.Active.StreamIdentifier = mc.TargetStreamID
	// final.Hash still carries SourceDocument's last-observed precondition
	// (set by the QuiesceSource Set call above); DocumentStore.Set checks
	// it and bumps it to the new persisted hash on success.
	if err := mc.DocumentStore.Set(context.WithoutCancel(ctx), &final); err != nil {
		m.logger.Error("ges: migration closed source but failed to repoint document; manual repair required",
			"migration_id", mc.MigrationID, "error", err)
		return m.fail(mc, totalCopied, iteration, err)
	}

	return &LiveMigrationResult{
		Success:           true,
		SourceStreamID:    mc.SourceStreamID,
		TargetStreamID:    mc.TargetStreamID,
		TotalEventsCopied: totalCopied,
		Iterations:        iteration,
	}, nil
}

func (m *MigrationExecutor) fail(mc *LiveMigrationContext, totalCopied, iteration int, err error) (*LiveMigrationResult, error) {
	m.logger.Error("ges: live migration failed", "migration_id", mc.MigrationID, "error", err)
	return &LiveMigrationResult{
		Success:           false,
		SourceStreamID:    mc.SourceStreamID,
		TargetStreamID:    mc.TargetStreamID,
		TotalEventsCopied: totalCopied,
		Iterations:        iteration,
		Error:             err,
	}, err
}
