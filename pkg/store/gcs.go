//go:build gcp

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
)

// GCSObjectStore keeps lead documents in a Google Cloud Storage bucket. Tags
// become object metadata.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSObjectStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSObjectStore creates a client using application default credentials.
func NewGCSObjectStore(ctx context.Context, cfg GCSConfig) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSObjectStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	w := s.client.Bucket(s.bucket).Object(s.prefix + key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	if opts.Tags != "" {
		vals, err := url.ParseQuery(opts.Tags)
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("invalid tags: %w", err)
		}
		w.Metadata = make(map[string]string, len(vals))
		for k := range vals {
			w.Metadata[k] = vals.Get(k)
		}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (s *GCSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSObjectStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", key, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}
