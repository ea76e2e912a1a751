package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-ges/ges"
)

// StreamTagStore is a Postgres-backed ges.StreamTagStore, used to locate
// streams independent of their owning document (migration bookkeeping).
type StreamTagStore struct {
	pool *pgxpool.Pool
}

// NewStreamTagStore builds a Postgres StreamTagStore.
func NewStreamTagStore(pool *pgxpool.Pool) *StreamTagStore {
	return &StreamTagStore{pool: pool}
}

// Tag implements ges.StreamTagStore.
func (s *StreamTagStore) Tag(ctx context.Context, streamID, tag string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ges_stream_tags (stream_id, tag) VALUES ($1, $2) ON CONFLICT (stream_id, tag) DO NOTHING`,
		streamID, tag,
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: tag stream: %v", ges.ErrTransient, err)
	}
	return nil
}

// Untag implements ges.StreamTagStore.
func (s *StreamTagStore) Untag(ctx context.Context, streamID, tag string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ges_stream_tags WHERE stream_id = $1 AND tag = $2`, streamID, tag)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: untag stream: %v", ges.ErrTransient, err)
	}
	return nil
}

// GetFirstByTag implements ges.StreamTagStore.
func (s *StreamTagStore) GetFirstByTag(ctx context.Context, tag string) (string, error) {
	var streamID string
	err := s.pool.QueryRow(ctx,
		`SELECT stream_id FROM ges_stream_tags WHERE tag = $1 ORDER BY stream_id LIMIT 1`, tag,
	).Scan(&streamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ges.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: ges-pgx: get first by tag: %v", ges.ErrTransient, err)
	}
	return streamID, nil
}

// GetByTag implements ges.StreamTagStore.
func (s *StreamTagStore) GetByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream_id FROM ges_stream_tags WHERE tag = $1 ORDER BY stream_id`, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: get by tag: %v", ges.ErrTransient, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: ges-pgx: scanning stream tag row: %v", ges.ErrTransient, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ ges.StreamTagStore = (*StreamTagStore)(nil)
