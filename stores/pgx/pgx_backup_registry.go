package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-ges/ges"
)

// BackupRegistry is a Postgres-backed ges.BackupRegistry.
type BackupRegistry struct {
	pool *pgxpool.Pool
}

// NewBackupRegistry builds a Postgres BackupRegistry.
func NewBackupRegistry(pool *pgxpool.Pool) *BackupRegistry {
	return &BackupRegistry{pool: pool}
}

// Record implements ges.BackupRegistry.
func (r *BackupRegistry) Record(ctx context.Context, handle ges.BackupHandle) error {
	metadata, err := json.Marshal(handle.Metadata)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: encoding backup metadata: %v", ges.ErrSerialization, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO ges_backups
			(backup_id, object_name, object_id, provider_name, location, stream_version, event_count, size_bytes, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		handle.BackupID, handle.ObjectName, handle.ObjectID, handle.ProviderName, handle.Location,
		handle.StreamVersion, handle.EventCount, handle.SizeBytes, metadata, handle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: record backup: %v", ges.ErrTransient, err)
	}
	return nil
}

// Get implements ges.BackupRegistry.
func (r *BackupRegistry) Get(ctx context.Context, backupID string) (ges.BackupHandle, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT backup_id, object_name, object_id, provider_name, location, stream_version, event_count, size_bytes, metadata, created_at
		 FROM ges_backups WHERE backup_id = $1`, backupID)
	handle, err := scanBackupHandle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ges.BackupHandle{}, ges.ErrNotFound
	}
	if err != nil {
		return ges.BackupHandle{}, err
	}
	return handle, nil
}

// List implements ges.BackupRegistry.
func (r *BackupRegistry) List(ctx context.Context, objectName, objectID string) ([]ges.BackupHandle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT backup_id, object_name, object_id, provider_name, location, stream_version, event_count, size_bytes, metadata, created_at
		 FROM ges_backups WHERE lower(object_name) = $1 AND object_id = $2 ORDER BY created_at DESC`,
		ges.NormalizedObjectName(objectName), objectID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: list backups: %v", ges.ErrTransient, err)
	}
	defer rows.Close()

	var out []ges.BackupHandle
	for rows.Next() {
		handle, err := scanBackupHandle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, handle)
	}
	return out, rows.Err()
}

// Delete implements ges.BackupRegistry.
func (r *BackupRegistry) Delete(ctx context.Context, backupID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ges_backups WHERE backup_id = $1`, backupID)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: delete backup: %v", ges.ErrTransient, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackupHandle(row rowScanner) (ges.BackupHandle, error) {
	var h ges.BackupHandle
	var metadata []byte
	if err := row.Scan(&h.BackupID, &h.ObjectName, &h.ObjectID, &h.ProviderName, &h.Location,
		&h.StreamVersion, &h.EventCount, &h.SizeBytes, &metadata, &h.CreatedAt); err != nil {
		return ges.BackupHandle{}, fmt.Errorf("%w: ges-pgx: scanning backup handle: %v", ges.ErrTransient, err)
	}
	if err := json.Unmarshal(metadata, &h.Metadata); err != nil {
		return ges.BackupHandle{}, fmt.Errorf("%w: ges-pgx: decoding backup metadata: %v", ges.ErrSerialization, err)
	}
	return h, nil
}

var _ ges.BackupRegistry = (*BackupRegistry)(nil)
