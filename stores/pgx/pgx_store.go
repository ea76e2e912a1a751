// Package pgx provides PostgreSQL-backed implementations of every ges store
// interface, built on jackc/pgx/v5. Events are stored one row per (stream_id,
// version); documents, snapshots, and tags each get their own table.
package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-ges/ges"
)

// DataStore is a Postgres-backed ges.DataStore. Appends run inside a
// transaction, and the table's (stream_id, version) primary key rejects a
// version that is already taken; it does not check that versions are
// contiguous. A violation of that key means another
// writer already committed into this version range, so it surfaces as
// ErrConcurrency (reload and retry), not ErrStreamIntegrity.
type DataStore struct {
	pool *pgxpool.Pool
}

// NewDataStore builds a Postgres DataStore. The events table is expected to
// already exist (see schema.sql); this package does not run migrations.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{pool: pool}
}

// Append implements ges.DataStore. preserveTimestamp, when false, stamps
// occurred_at as time.Now() for every row; when true (live migration replay)
// the original event's Action.EventOccuredAt is preserved when present.
func (s *DataStore) Append(ctx context.Context, document *ges.ObjectDocument, preserveTimestamp bool, events []ges.Event) error {
	if len(events) == 0 {
		return nil
	}
	streamID := document.Active.StreamIdentifier

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: begin append tx: %v", ges.ErrTransient, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range events {
		occurredAt := time.Now().UTC()
		if preserveTimestamp && e.Action != nil && e.Action.EventOccuredAt != nil {
			occurredAt = *e.Action.EventOccuredAt
		}
		action, err := json.Marshal(e.Action)
		if err != nil {
			return fmt.Errorf("%w: ges-pgx: encoding action metadata: %v", ges.ErrSerialization, err)
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("%w: ges-pgx: encoding metadata: %v", ges.ErrSerialization, err)
		}
		batch.Queue(
			`INSERT INTO ges_events
				(stream_id, version, event_type, schema_version, payload, external_sequencer, action, metadata, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			streamID, e.Version, e.Type, e.SchemaVersion, e.Payload, e.ExternalSequencer, action, metadata, occurredAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if isUniqueViolation(err) {
				actual, verr := s.currentVersion(ctx, streamID)
				if verr != nil {
					actual = -1
				}
				return &ges.ConcurrencyError{
					ObjectName:      document.ObjectName,
					ObjectID:        document.ObjectID,
					StreamID:        streamID,
					ExpectedVersion: events[i].Version - 1,
					ActualVersion:   actual,
				}
			}
			return fmt.Errorf("ges-pgx: inserting event: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("ges-pgx: closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: ges-pgx: commit append tx: %v", ges.ErrTransient, err)
	}
	return nil
}

// Read implements ges.DataStore.
func (s *DataStore) Read(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) ([]ges.Event, error) {
	streamID := document.Active.StreamIdentifier

	exists, err := s.streamExists(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var rows pgx.Rows
	if untilVersion != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT version, event_type, schema_version, payload, external_sequencer, action, metadata
			 FROM ges_events WHERE stream_id = $1 AND version >= $2 AND version <= $3 ORDER BY version ASC`,
			streamID, startVersion, *untilVersion)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT version, event_type, schema_version, payload, external_sequencer, action, metadata
			 FROM ges_events WHERE stream_id = $1 AND version >= $2 ORDER BY version ASC`,
			streamID, startVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: query events: %v", ges.ErrTransient, err)
	}
	defer rows.Close()

	out := []ges.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: reading rows: %v", ges.ErrTransient, err)
	}
	return out, nil
}

// currentVersion returns the highest committed version of streamID, or -1
// if the stream has no events. Queried against the pool directly (not the
// failed append's transaction, which is aborted after the conflicting
// statement) so it can run as part of building a ConcurrencyError.
func (s *DataStore) currentVersion(ctx context.Context, streamID string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), -1) FROM ges_events WHERE stream_id = $1`, streamID,
	).Scan(&version)
	if err != nil {
		return -1, fmt.Errorf("%w: ges-pgx: reading current version: %v", ges.ErrTransient, err)
	}
	return version, nil
}

func (s *DataStore) streamExists(ctx context.Context, streamID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ges_events WHERE stream_id = $1 LIMIT 1)`, streamID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: ges-pgx: checking stream existence: %v", ges.ErrTransient, err)
	}
	return exists, nil
}

func scanEvent(rows pgx.Rows) (ges.Event, error) {
	var (
		e          ges.Event
		actionJSON []byte
		metaJSON   []byte
	)
	if err := rows.Scan(&e.Version, &e.Type, &e.SchemaVersion, &e.Payload, &e.ExternalSequencer, &actionJSON, &metaJSON); err != nil {
		return ges.Event{}, fmt.Errorf("%w: ges-pgx: scanning event: %v", ges.ErrTransient, err)
	}
	if len(actionJSON) > 0 && string(actionJSON) != "null" {
		var a ges.ActionMetadata
		if err := json.Unmarshal(actionJSON, &a); err != nil {
			return ges.Event{}, fmt.Errorf("%w: ges-pgx: decoding action metadata: %v", ges.ErrSerialization, err)
		}
		e.Action = &a
	}
	if len(metaJSON) > 0 && string(metaJSON) != "null" {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return ges.Event{}, fmt.Errorf("%w: ges-pgx: decoding metadata: %v", ges.ErrSerialization, err)
		}
	}
	return e, nil
}

// ReadAsStream implements ges.DataStore with a server-side cursor so large
// ranges don't have to be buffered in memory.
func (s *DataStore) ReadAsStream(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) (ges.EventIterator, error) {
	streamID := document.Active.StreamIdentifier

	exists, err := s.streamExists(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &rowIterator{rows: nil}, nil
	}

	var rows pgx.Rows
	if untilVersion != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT version, event_type, schema_version, payload, external_sequencer, action, metadata
			 FROM ges_events WHERE stream_id = $1 AND version >= $2 AND version <= $3 ORDER BY version ASC`,
			streamID, startVersion, *untilVersion)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT version, event_type, schema_version, payload, external_sequencer, action, metadata
			 FROM ges_events WHERE stream_id = $1 AND version >= $2 ORDER BY version ASC`,
			streamID, startVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: query events: %v", ges.ErrTransient, err)
	}
	return &rowIterator{rows: rows}, nil
}

type rowIterator struct {
	rows pgx.Rows
}

func (it *rowIterator) Next(context.Context) (ges.Event, bool, error) {
	if it.rows == nil || !it.rows.Next() {
		if it.rows != nil {
			if err := it.rows.Err(); err != nil {
				return ges.Event{}, false, fmt.Errorf("%w: ges-pgx: iterating rows: %v", ges.ErrTransient, err)
			}
		}
		return ges.Event{}, false, nil
	}
	e, err := scanEvent(it.rows)
	if err != nil {
		return ges.Event{}, false, err
	}
	return e, true, nil
}

func (it *rowIterator) Close() error {
	if it.rows != nil {
		it.rows.Close()
	}
	return nil
}

var _ ges.DataStore = (*DataStore)(nil)
var _ ges.EventIterator = (*rowIterator)(nil)
