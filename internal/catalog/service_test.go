package catalog

import (
	"database/sql"
	"errors"
	"testing"
)

func TestIdempotencyKey(t *testing.T) {
	pr := 42
	tests := []struct {
		name     string
		repoID   string
		headSHA  string
		prNumber *int
		want     string
	}{
		{"push", "repo-1", "abc123", nil, "repo-1:abc123"},
		{"pull request", "repo-1", "abc123", &pr, "repo-1:abc123:pr42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IdempotencyKey(tc.repoID, tc.headSHA, tc.prNumber); got != tc.want {
				t.Errorf("IdempotencyKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	err := notFound(sql.ErrNoRows, "get analysis %s", "a-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err.Error() != "get analysis a-1: not found" {
		t.Errorf("unexpected message %q", err.Error())
	}

	other := errors.New("connection refused")
	err = notFound(other, "get repository %s", "org/repo")
	if errors.Is(err, ErrNotFound) {
		t.Error("connection errors must not be reported as not found")
	}
	if !errors.Is(err, other) {
		t.Error("expected the original error to be wrapped")
	}
}

func TestNilIfEmpty(t *testing.T) {
	if nilIfEmpty("") != nil {
		t.Error("empty string should map to nil")
	}
	if got := nilIfEmpty("blob-1"); got == nil || *got != "blob-1" {
		t.Errorf("nilIfEmpty(blob-1) = %v", got)
	}
}

func TestNewService(t *testing.T) {
	svc := NewService(nil)
	if svc == nil {
		t.Fatal("NewService returned nil")
	}
	_ = svc.UpsertRepository
	_ = svc.RecordAnalysis
	_ = svc.LatestAnalysisForPR
}

func TestRepositoryOptionalFields(t *testing.T) {
	installID := int64(12345)
	repo := Repository{
		ID:                   "repo-uuid-1",
		FullName:             "org/web",
		DefaultBranch:        "main",
		GitHubInstallationID: &installID,
	}
	if repo.GitHubRepoID != nil {
		t.Errorf("GitHubRepoID = %v, want nil", repo.GitHubRepoID)
	}
	if *repo.GitHubInstallationID != 12345 {
		t.Errorf("GitHubInstallationID = %d, want 12345", *repo.GitHubInstallationID)
	}
}
