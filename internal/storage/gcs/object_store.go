// Package gcs provides an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket       string
	ProjectID    string
	CacheControl time.Duration
}

// ObjectStore writes screenshot objects to a configured GCS bucket.
// Writes are plain object puts, which overwrite any existing object at the
// same key; re-running a target replaces its images rather than duplicating.
type ObjectStore struct {
	client       *storage.Client
	bucket       string
	projectID    string
	cacheControl string
}

// New creates a GCS-backed object store. Authentication is handled via
// Application Default Credentials.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	cacheControl := cfg.CacheControl
	if cacheControl <= 0 {
		cacheControl = 30 * 24 * time.Hour
	}
	return &ObjectStore{
		client:       client,
		bucket:       cfg.Bucket,
		projectID:    cfg.ProjectID,
		cacheControl: fmt.Sprintf("public, max-age=%d", int(cacheControl.Seconds())),
	}, nil
}

// EnsureBucket verifies the bucket exists and creates it when missing.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	bkt := s.client.Bucket(s.bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("get bucket %q attributes: %w", s.bucket, err)
	}
	if s.projectID == "" {
		return fmt.Errorf("bucket %q does not exist and no project id is configured to create it", s.bucket)
	}
	if err := bkt.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Upload writes data at path, setting content type and a long cache
// lifetime. The cache-busting version token on the public URL handles
// invalidation after re-processing.
func (s *ObjectStore) Upload(ctx context.Context, path string, contentType string, data []byte) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = s.cacheControl
	if _, err := writer.Write(data); err != nil {
		// Close anyway to release resources; the write error is primary.
		_ = writer.Close()
		return fmt.Errorf("write object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the unauthenticated HTTPS URL for an object.
func (s *ObjectStore) PublicURL(path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, path)
}
