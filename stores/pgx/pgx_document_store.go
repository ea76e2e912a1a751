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

// DocumentStore is a Postgres-backed ges.ObjectDocumentStore. Documents are
// stored as a single jsonb column keyed by (object_name, object_id); Set
// conditions its UPDATE on the previously observed hash, the same pattern
// the teacher library uses for event version conflicts.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore builds a Postgres DocumentStore.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

type documentRow struct {
	SchemaVersion     int                    `json:"schemaVersion"`
	Active            ges.StreamInformation  `json:"active"`
	TerminatedStreams []ges.TerminatedStream `json:"terminatedStreams,omitempty"`
}

// Get implements ges.ObjectDocumentStore.
func (d *DocumentStore) Get(ctx context.Context, objectName, objectID string) (*ges.ObjectDocument, error) {
	var body []byte
	var hash string
	err := d.pool.QueryRow(ctx,
		`SELECT body, hash FROM ges_documents WHERE object_name = $1 AND object_id = $2`,
		ges.NormalizedObjectName(objectName), objectID,
	).Scan(&body, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ges.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: get document: %v", ges.ErrTransient, err)
	}
	return decodeDocument(objectName, objectID, body, hash)
}

// GetOrCreate implements ges.ObjectDocumentStore, deriving the active stream
// identifier deterministically so that two racing creates converge and the
// loser's INSERT ... ON CONFLICT DO NOTHING simply falls through to a read.
func (d *DocumentStore) GetOrCreate(ctx context.Context, objectName, objectID string) (*ges.ObjectDocument, error) {
	normalizedName := ges.NormalizedObjectName(objectName)

	doc := &ges.ObjectDocument{
		ObjectName:    objectName,
		ObjectID:      objectID,
		SchemaVersion: 1,
		Active: ges.StreamInformation{
			StreamIdentifier:     deriveStreamID(normalizedName, objectID),
			StreamType:           "pgx",
			CurrentStreamVersion: -1,
		},
	}
	hash, err := doc.Hash()
	if err != nil {
		return nil, err
	}
	doc.Hash = hash

	row := documentRow{SchemaVersion: doc.SchemaVersion, Active: doc.Active}
	body, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: encoding document: %v", ges.ErrSerialization, err)
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO ges_documents (object_name, object_id, body, hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (object_name, object_id) DO NOTHING`,
		normalizedName, objectID, body, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: create document: %v", ges.ErrTransient, err)
	}

	return d.Get(ctx, objectName, objectID)
}

func deriveStreamID(normalizedName, objectID string) string {
	return normalizedName + ":" + objectID
}

// Set implements ges.ObjectDocumentStore. document.Hash is the precondition;
// on success it is rewritten to the newly persisted hash.
func (d *DocumentStore) Set(ctx context.Context, document *ges.ObjectDocument) error {
	normalizedName := ges.NormalizedObjectName(document.ObjectName)
	newHash, err := document.Hash()
	if err != nil {
		return err
	}

	row := documentRow{
		SchemaVersion:     document.SchemaVersion,
		Active:            document.Active,
		TerminatedStreams: document.TerminatedStreams,
	}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: encoding document: %v", ges.ErrSerialization, err)
	}

	tag, err := d.pool.Exec(ctx,
		`UPDATE ges_documents SET body = $1, hash = $2
		 WHERE object_name = $3 AND object_id = $4 AND hash = $5`,
		body, newHash, normalizedName, document.ObjectID, document.Hash,
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: set document: %v", ges.ErrTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return &ges.ConcurrencyError{
			ObjectName: document.ObjectName,
			ObjectID:   document.ObjectID,
			StreamID:   document.Active.StreamIdentifier,
		}
	}

	document.Hash = newHash
	return nil
}

// GetFirstByTag implements ges.ObjectDocumentStore.
func (d *DocumentStore) GetFirstByTag(ctx context.Context, objectName, tag string) (string, error) {
	var objectID string
	err := d.pool.QueryRow(ctx,
		`SELECT object_id FROM ges_document_tags WHERE object_name = $1 AND tag = $2 ORDER BY object_id LIMIT 1`,
		ges.NormalizedObjectName(objectName), tag,
	).Scan(&objectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ges.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: ges-pgx: get first by tag: %v", ges.ErrTransient, err)
	}
	return objectID, nil
}

// GetByTag implements ges.ObjectDocumentStore.
func (d *DocumentStore) GetByTag(ctx context.Context, objectName, tag string) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT object_id FROM ges_document_tags WHERE object_name = $1 AND tag = $2 ORDER BY object_id`,
		ges.NormalizedObjectName(objectName), tag,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: get by tag: %v", ges.ErrTransient, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: ges-pgx: scanning tag row: %v", ges.ErrTransient, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Tag upserts a document tag; exposed directly since ObjectDocumentStore
// itself is read/write-on-Set only, but callers wiring a DocumentTagStore
// separately can use this as that implementation.
func (d *DocumentStore) Tag(ctx context.Context, objectName, objectID, tag string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO ges_document_tags (object_name, object_id, tag) VALUES ($1, $2, $3)
		 ON CONFLICT (object_name, object_id, tag) DO NOTHING`,
		ges.NormalizedObjectName(objectName), objectID, tag,
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: tag document: %v", ges.ErrTransient, err)
	}
	return nil
}

// Untag implements ges.DocumentTagStore.
func (d *DocumentStore) Untag(ctx context.Context, objectName, objectID, tag string) error {
	_, err := d.pool.Exec(ctx,
		`DELETE FROM ges_document_tags WHERE object_name = $1 AND object_id = $2 AND tag = $3`,
		ges.NormalizedObjectName(objectName), objectID, tag,
	)
	if err != nil {
		return fmt.Errorf("%w: ges-pgx: untag document: %v", ges.ErrTransient, err)
	}
	return nil
}

func decodeDocument(objectName, objectID string, body []byte, hash string) (*ges.ObjectDocument, error) {
	var row documentRow
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("%w: ges-pgx: decoding document: %v", ges.ErrSerialization, err)
	}
	return &ges.ObjectDocument{
		ObjectName:        objectName,
		ObjectID:          objectID,
		SchemaVersion:     row.SchemaVersion,
		Hash:              hash,
		Active:            row.Active,
		TerminatedStreams: row.TerminatedStreams,
	}, nil
}

var _ ges.ObjectDocumentStore = (*DocumentStore)(nil)
var _ ges.DocumentTagStore = (*DocumentStore)(nil)
