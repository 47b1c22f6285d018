//go:build !gcp

package store

import (
	"context"
	"fmt"
)

func newGCSObjectStore(context.Context, ObjectStoreConfig) (ObjectStore, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
