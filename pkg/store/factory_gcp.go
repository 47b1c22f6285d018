//go:build gcp

package store

import "context"

func newGCSObjectStore(ctx context.Context, cfg ObjectStoreConfig) (ObjectStore, error) {
	return NewGCSObjectStore(ctx, GCSConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
}
