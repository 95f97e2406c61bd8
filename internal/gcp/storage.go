package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GCSObjectStore is the production object store: durable binary storage in a
// single GCS bucket, addressed by object key. Clients upload directly through
// time-limited signed URLs; the pipeline itself never writes document
// binaries.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// NewGCSObjectStore wraps a storage client and bucket name.
func NewGCSObjectStore(client *storage.Client, bucket string) *GCSObjectStore {
	return &GCSObjectStore{client: client, bucket: bucket}
}

// Bucket returns the bucket this store addresses.
func (s *GCSObjectStore) Bucket() string { return s.bucket }

// SignedUploadURL returns a write-once upload handle for the given key,
// valid for ttl. The content type is pinned so the handle cannot be reused
// for a different file type than the one validated at ingest.
func (s *GCSObjectStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for %s: %w", key, err)
	}
	return url, nil
}

// NewReader opens the object at key in the given bucket.
func (s *GCSObjectStore) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, key, err)
	}
	return r, nil
}

// Exists reports whether the object at key has been durably stored.
func (s *GCSObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", s.bucket, key, err)
	}
	return true, nil
}
