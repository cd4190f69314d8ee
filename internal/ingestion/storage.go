// Package ingestion records analysis results: the result document goes to
// blob storage and its metadata to the catalog.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by storage backends when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// UploadsScope holds blobs uploaded ahead of the ingest request that
// references them.
const UploadsScope = "_uploads"

// StorageClient abstracts blob storage for analysis results. Blobs are
// grouped by scope, normally a repository id.
type StorageClient interface {
	PutResult(ctx context.Context, scope, blobID string, data []byte) error
	GetResult(ctx context.Context, scope, blobID string) ([]byte, error)
}

// LocalStorage implements StorageClient using the local filesystem.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a LocalStorage rooted at the given directory.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

func (s *LocalStorage) path(scope, blobID string) string {
	return filepath.Join(s.BaseDir, scope, "results", blobID+".json")
}

// PutResult stores a result blob.
func (s *LocalStorage) PutResult(ctx context.Context, scope, blobID string, data []byte) error {
	path := s.path(scope, blobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GetResult retrieves a result blob.
func (s *LocalStorage) GetResult(ctx context.Context, scope, blobID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(scope, blobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("result %s/%s: %w", scope, blobID, ErrNotFound)
	}
	return data, err
}

func blobKey(scope, blobID string) string {
	return scope + "/results/" + blobID + ".json"
}
