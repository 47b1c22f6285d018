package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// ObjectStoreConfig selects and configures the object store.
type ObjectStoreConfig struct {
	Backend    Backend
	DataDir    string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	GCSBucket  string
	GCSPrefix  string
}

// NewObjectStore builds the configured object store. The filesystem backend
// is the default and keeps objects under <DataDir>/leads.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileObjectStore(filepath.Join(dir, "leads"))
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("LEADS_BUCKET is required for S3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3ObjectStore(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("LEADS_GCS_BUCKET is required for GCS storage")
		}
		return newGCSObjectStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported object storage backend: %s", cfg.Backend)
	}
}
