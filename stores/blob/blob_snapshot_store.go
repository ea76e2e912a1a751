package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/go-ges/ges"
)

const snapshotContentType = "application/octet-stream"

// SnapshotStore is an S3-backed ges.SnapshotStore, keyed with
// ges.SnapshotKey's bit-exact layout.
type SnapshotStore struct {
	bucket string
	client *s3.Client
}

// NewSnapshotStore builds an S3 SnapshotStore against bucket.
func NewSnapshotStore(client *s3.Client, bucket string) *SnapshotStore {
	return &SnapshotStore{client: client, bucket: bucket}
}

// Set implements ges.SnapshotStore.
func (s *SnapshotStore) Set(ctx context.Context, document *ges.ObjectDocument, version int, name string, payload []byte) error {
	key := ges.SnapshotKey(document.Active.StreamIdentifier, version, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(snapshotContentType),
	})
	if err != nil {
		return fmt.Errorf("%w: blob: put snapshot %s: %v", ges.ErrTransient, key, err)
	}
	return nil
}

// Get implements ges.SnapshotStore.
func (s *SnapshotStore) Get(ctx context.Context, document *ges.ObjectDocument, version int, name string) ([]byte, bool, error) {
	key := ges.SnapshotKey(document.Active.StreamIdentifier, version, name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: blob: get snapshot %s: %v", ges.ErrTransient, key, err)
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: blob: reading snapshot %s: %v", ges.ErrTransient, key, err)
	}
	return payload, true, nil
}

// ListSnapshots implements ges.SnapshotStore.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, document *ges.ObjectDocument) ([]ges.SnapshotMetadata, error) {
	prefix := ges.SnapshotPrefix(document.Active.StreamIdentifier)

	var out []ges.SnapshotMetadata
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: blob: listing snapshots: %v", ges.ErrTransient, err)
		}
		for _, obj := range page.Contents {
			version, name, ok := parseSnapshotKey(aws.ToString(obj.Key), prefix)
			if !ok {
				continue
			}
			var createdAt time.Time
			if obj.LastModified != nil {
				createdAt = *obj.LastModified
			}
			out = append(out, ges.SnapshotMetadata{
				Version:   version,
				Name:      name,
				SizeBytes: aws.ToInt64(obj.Size),
				CreatedAt: createdAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func parseSnapshotKey(key, prefix string) (version int, name string, ok bool) {
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.TrimSuffix(rest, ".json")
	parts := strings.SplitN(rest, "_", 2)
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 2 {
		return v, parts[1], true
	}
	return v, "", true
}

// Delete implements ges.SnapshotStore.
func (s *SnapshotStore) Delete(ctx context.Context, document *ges.ObjectDocument, version int, name string) (bool, error) {
	key := ges.SnapshotKey(document.Active.StreamIdentifier, version, name)
	_, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: blob: checking snapshot %s before delete: %v", ges.ErrTransient, key, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, fmt.Errorf("%w: blob: delete snapshot %s: %v", ges.ErrTransient, key, err)
	}
	return true, nil
}

// DeleteMany implements ges.SnapshotStore.
func (s *SnapshotStore) DeleteMany(ctx context.Context, document *ges.ObjectDocument, versions []int) (int, error) {
	count := 0
	var firstErr error
	for _, v := range versions {
		ok, err := s.Delete(ctx, document, v, "")
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			count++
		}
	}
	return count, firstErr
}

var _ ges.SnapshotStore = (*SnapshotStore)(nil)
