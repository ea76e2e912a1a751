package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/go-ges/ges"
)

const backupContentType = "application/json"

// BackupProvider is an S3-backed ges.BackupProvider. Large backup payloads
// go through the s3manager multipart uploader/downloader rather than a
// single PutObject/GetObject, so BackupService.BackupMany doesn't choke on
// the occasional oversized stream.
type BackupProvider struct {
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
	client     *s3.Client
}

// NewBackupProvider builds an S3 BackupProvider against bucket.
func NewBackupProvider(client *s3.Client, bucket string) *BackupProvider {
	return &BackupProvider{
		bucket:     bucket,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}
}

func backupKey(backupID string) string {
	return fmt.Sprintf("backup/%s.json", backupID)
}

// Name implements ges.BackupProvider.
func (p *BackupProvider) Name() string { return "s3" }

// Write implements ges.BackupProvider.
func (p *BackupProvider) Write(ctx context.Context, backupID string, data []byte) (string, error) {
	key := backupKey(backupID)
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(backupContentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: blob: uploading backup %s: %v", ges.ErrTransient, backupID, err)
	}
	return key, nil
}

// Read implements ges.BackupProvider.
func (p *BackupProvider) Read(ctx context.Context, location string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := p.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ges.ErrNotFound
		}
		return nil, fmt.Errorf("%w: blob: downloading backup %s: %v", ges.ErrTransient, location, err)
	}
	return buf.Bytes(), nil
}

// Delete implements ges.BackupProvider.
func (p *BackupProvider) Delete(ctx context.Context, location string) error {
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(location)}); err != nil {
		return fmt.Errorf("%w: blob: deleting backup %s: %v", ges.ErrTransient, location, err)
	}
	return nil
}

var _ ges.BackupProvider = (*BackupProvider)(nil)
