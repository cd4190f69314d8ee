package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoragePutGetResult(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir)
	ctx := context.Background()

	data := []byte(`{"id":"blob1"}`)
	if err := s.PutResult(ctx, "repo1", "blob1", data); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	got, err := s.GetResult(ctx, "repo1", "blob1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("GetResult = %q, want %q", got, data)
	}

	expectedPath := filepath.Join(dir, "repo1", "results", "blob1.json")
	if _, err := os.Stat(expectedPath); err != nil {
		t.Errorf("expected file at %s: %v", expectedPath, err)
	}
}

func TestLocalStorageScopesAreSeparate(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	if err := s.PutResult(ctx, UploadsScope, "blob1", []byte(`{}`)); err != nil {
		t.Fatalf("PutResult: %v", err)
	}
	if _, err := s.GetResult(ctx, "repo1", "blob1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound across scopes, got %v", err)
	}
}

func TestLocalStorageGetNotFound(t *testing.T) {
	s := NewLocalStorage(t.TempDir())

	_, err := s.GetResult(context.Background(), "repo1", "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobKey(t *testing.T) {
	if got := blobKey("repo1", "blob1"); got != "repo1/results/blob1.json" {
		t.Errorf("blobKey = %q", got)
	}
}
