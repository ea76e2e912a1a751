package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-ges/ges"
)

// SnapshotStore is a Postgres-backed ges.SnapshotStore.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore builds a Postgres SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Set implements ges.SnapshotStore.
func (s *SnapshotStore) Set(ctx context.Context, document *ges.ObjectDocument, version int, name string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ges_snapshots (stream_id, version, name, payload, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (stream_id, version, name) DO UPDATE SET payload = EXCLUDED.payload, size_bytes = EXCLUDED.size_bytes, created_at = now()`,
		document.Active.StreamIdentifier, version, name, payload, len(payload),
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: set snapshot: %v", ges.ErrTransient, err)
	}
	return nil
}

// Get implements ges.SnapshotStore.
func (s *SnapshotStore) Get(ctx context.Context, document *ges.ObjectDocument, version int, name string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM ges_snapshots WHERE stream_id = $1 AND version = $2 AND name = $3`,
		document.Active.StreamIdentifier, version, name,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: ges-pgx: get snapshot: %v", ges.ErrTransient, err)
	}
	return payload, true, nil
}

// ListSnapshots implements ges.SnapshotStore.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, document *ges.ObjectDocument) ([]ges.SnapshotMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, name, size_bytes, created_at FROM ges_snapshots WHERE stream_id = $1 ORDER BY version DESC`,
		document.Active.StreamIdentifier,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: list snapshots: %v", ges.ErrTransient, err)
	}
	defer rows.Close()

	var out []ges.SnapshotMetadata
	for rows.Next() {
		var m ges.SnapshotMetadata
		if err := rows.Scan(&m.Version, &m.Name, &m.SizeBytes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: ges-pgx: scanning snapshot metadata: %v", ges.ErrTransient, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete implements ges.SnapshotStore.
func (s *SnapshotStore) Delete(ctx context.Context, document *ges.ObjectDocument, version int, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ges_snapshots WHERE stream_id = $1 AND version = $2 AND name = $3`,
		document.Active.StreamIdentifier, version, name,
	)
	if err != nil {
		return false, fmt.Errorf("%w: ges-pgx: delete snapshot: %v", ges.ErrTransient, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMany implements ges.SnapshotStore.
func (s *SnapshotStore) DeleteMany(ctx context.Context, document *ges.ObjectDocument, versions []int) (int, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ges_snapshots WHERE stream_id = $1 AND version = ANY($2) AND name = ''`,
		document.Active.StreamIdentifier, versions,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: ges-pgx: delete many snapshots: %v", ges.ErrTransient, err)
	}
	return int(tag.RowsAffected()), nil
}

var _ ges.SnapshotStore = (*SnapshotStore)(nil)
