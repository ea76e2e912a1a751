// Package blob provides an S3-backed ges.DataStore, ges.SnapshotStore, and
// ges.BackupProvider. Every event is written as its own object keyed by
// stream and version, conditioned on IfNoneMatch so a retried Append is
// idempotent rather than silently overwriting; this mirrors the "write once,
// verify on conflict" pattern used by log-storage systems built on S3.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/go-ges/ges"
)

const eventContentType = "application/json"

// DataStore is an S3-backed ges.DataStore.
type DataStore struct {
	bucket string
	client *s3.Client
}

// NewDataStore builds an S3 DataStore against bucket.
func NewDataStore(client *s3.Client, bucket string) *DataStore {
	return &DataStore{client: client, bucket: bucket}
}

func eventKey(streamID string, version int) string {
	return fmt.Sprintf("stream/%s/events/%020d.json", streamID, version)
}

func eventsPrefix(streamID string) string {
	return fmt.Sprintf("stream/%s/events/", streamID)
}

// Append implements ges.DataStore. Each event is written to its own object
// gated by IfNoneMatch="*"; if the object already exists, the write is
// accepted as idempotent only when the existing content matches exactly,
// otherwise another writer already claimed that version first and this is
// a concurrency conflict, not a stream integrity violation.
func (s *DataStore) Append(ctx context.Context, document *ges.ObjectDocument, _ bool, events []ges.Event) error {
	streamID := document.Active.StreamIdentifier
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: blob: encoding event: %v", ges.ErrSerialization, err)
		}

		key := eventKey(streamID, e.Version)
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(eventContentType),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			continue
		}

		var apiErr smithy.APIError
		if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "PreconditionFailed" {
			return fmt.Errorf("%w: blob: put event %s: %v", ges.ErrTransient, key, err)
		}

		existing, getErr := s.getObject(ctx, key)
		if getErr != nil {
			return fmt.Errorf("%w: blob: verifying conflicting event %s: %v", ges.ErrTransient, key, getErr)
		}
		if !bytes.Equal(existing, data) {
			return &ges.ConcurrencyError{
				ObjectName:      document.ObjectName,
				ObjectID:        document.ObjectID,
				StreamID:        streamID,
				ExpectedVersion: e.Version - 1,
			}
		}
	}
	return nil
}

func (s *DataStore) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

// Read implements ges.DataStore. Since S3 has no efficient "max key" query,
// the upper bound of an open-ended read comes from
// document.Active.CurrentStreamVersion rather than a bucket listing.
func (s *DataStore) Read(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) ([]ges.Event, error) {
	streamID := document.Active.StreamIdentifier

	_, err := s.getObject(ctx, eventKey(streamID, 0))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: blob: checking stream existence: %v", ges.ErrTransient, err)
	}

	until := document.Active.CurrentStreamVersion
	if untilVersion != nil && *untilVersion < until {
		until = *untilVersion
	}
	if startVersion > until {
		return []ges.Event{}, nil
	}

	out := make([]ges.Event, 0, until-startVersion+1)
	for v := startVersion; v <= until; v++ {
		data, err := s.getObject(ctx, eventKey(streamID, v))
		if err != nil {
			return nil, fmt.Errorf("%w: blob: reading event version %d: %v", ges.ErrTransient, v, err)
		}
		var e ges.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: blob: decoding event version %d: %v", ges.ErrSerialization, v, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadAsStream implements ges.DataStore.
func (s *DataStore) ReadAsStream(ctx context.Context, document *ges.ObjectDocument, startVersion int, untilVersion *int) (ges.EventIterator, error) {
	events, err := s.Read(ctx, document, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{events: events}, nil
}

type sliceIterator struct {
	events []ges.Event
	pos    int
}

func (it *sliceIterator) Next(context.Context) (ges.Event, bool, error) {
	if it.pos >= len(it.events) {
		return ges.Event{}, false, nil
	}
	e := it.events[it.pos]
	it.pos++
	return e, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// RecoverHeadVersion lists every event object under document's stream
// prefix and returns the highest contiguous version found, for repairing a
// document whose CurrentStreamVersion bookkeeping is suspected stale (e.g.
// after a crash between Append and ObjectDocumentStore.Set).
func (s *DataStore) RecoverHeadVersion(ctx context.Context, document *ges.ObjectDocument) (int, error) {
	versions, err := s.listVersions(ctx, document.Active.StreamIdentifier)
	if err != nil {
		return -1, err
	}
	head := -1
	for _, v := range versions {
		if v != head+1 {
			break
		}
		head = v
	}
	return head, nil
}

func (s *DataStore) listVersions(ctx context.Context, streamID string) ([]int, error) {
	var out []int
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(eventsPrefix(streamID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: blob: listing events: %v", ges.ErrTransient, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), eventsPrefix(streamID))
			name = strings.TrimSuffix(name, ".json")
			v, err := strconv.Atoi(name)
			if err != nil {
				continue
			}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}

var _ ges.DataStore = (*DataStore)(nil)
