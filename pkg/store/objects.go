// Package store persists ingested leads: the full record in an object store
// and a summary row in a lead index for lookups, plus a deduper that makes
// redelivered leads a no-op.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when a key or lead does not exist.
var ErrNotFound = errors.New("not found")

// PutOptions carries object attributes.
type PutOptions struct {
	ContentType string
	// Tags is an S3-style query string ("k=v&k2=v2").
	Tags string
}

// ObjectStore holds full lead documents by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// FileObjectStore keeps objects under a base directory, one file per key.
// Tags are written to a sidecar "<key>.tags" file.
type FileObjectStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileObjectStore creates the store, creating baseDir if needed.
func NewFileObjectStore(baseDir string) (*FileObjectStore, error) {
	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure object dir: %w", err)
	}
	return &FileObjectStore{baseDir: baseDir}, nil
}

func (s *FileObjectStore) path(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

func (s *FileObjectStore) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object dir: %w", err)
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: lead documents are readable by the service group
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	if opts.Tags != "" {
		if _, err := url.ParseQuery(opts.Tags); err != nil {
			return fmt.Errorf("invalid tags: %w", err)
		}
		//nolint:gosec // G306: see above
		if err := os.WriteFile(path+".tags", []byte(opts.Tags), 0640); err != nil {
			return fmt.Errorf("failed to write tags: %w", err)
		}
	}
	return nil
}

func (s *FileObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *FileObjectStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{path, path + ".tags"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete object: %w", err)
		}
	}
	return nil
}

// Tags returns the tag string stored with an object.
func (s *FileObjectStore) Tags(key string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path + ".tags")
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}
