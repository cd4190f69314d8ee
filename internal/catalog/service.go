// Package catalog stores repositories and the analyses recorded for them.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Analysis statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Service provides repository and analysis records backed by Postgres.
type Service struct {
	db *sql.DB
}

// Repository is a source repository that analyses are recorded against.
type Repository struct {
	ID                   string
	FullName             string
	DefaultBranch        string
	GitHubRepoID         *int64
	GitHubInstallationID *int64
	CreatedAt            time.Time
}

// AnalysisRow is the metadata of one recorded analysis. The result itself
// lives in blob storage under BlobID.
type AnalysisRow struct {
	ID               string
	RepoID           string
	PRNumber         *int
	BaseRef          string
	HeadRef          string
	BaseSHA          string
	HeadSHA          string
	Status           string
	ChangedFiles     int
	ChangedFunctions int
	MaxLevel         string
	MaxScore         int
	BlobID           *string
	ErrorMessage     *string
	CreatedAt        time.Time
}

// RecordAnalysis is the input for inserting or completing an analysis row.
type RecordAnalysis struct {
	RepoID           string
	PRNumber         *int
	BaseRef          string
	HeadRef          string
	BaseSHA          string
	HeadSHA          string
	Status           string
	ChangedFiles     int
	ChangedFunctions int
	MaxLevel         string
	MaxScore         int
	BlobID           string
}

// NewService creates a new catalog Service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// IdempotencyKey identifies an analysis of one head commit, optionally
// scoped to a pull request.
func IdempotencyKey(repoID, headSHA string, prNumber *int) string {
	key := fmt.Sprintf("%s:%s", repoID, headSHA)
	if prNumber != nil {
		key = fmt.Sprintf("%s:pr%d", key, *prNumber)
	}
	return key
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

const repoColumns = `id, full_name, default_branch, github_repo_id, github_installation_id, created_at`

func scanRepo(row interface{ Scan(...any) error }, r *Repository) error {
	return row.Scan(&r.ID, &r.FullName, &r.DefaultBranch, &r.GitHubRepoID, &r.GitHubInstallationID, &r.CreatedAt)
}

// UpsertRepository creates or updates a repository record. Nil GitHub ids
// keep the stored values.
func (s *Service) UpsertRepository(ctx context.Context, fullName, defaultBranch string, githubRepoID, installationID *int64) (*Repository, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	r := &Repository{}
	err := scanRepo(s.db.QueryRowContext(ctx,
		`INSERT INTO repositories (full_name, default_branch, github_repo_id, github_installation_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (full_name) DO UPDATE
		   SET default_branch = EXCLUDED.default_branch,
		       github_repo_id = COALESCE(EXCLUDED.github_repo_id, repositories.github_repo_id),
		       github_installation_id = COALESCE(EXCLUDED.github_installation_id, repositories.github_installation_id)
		 RETURNING `+repoColumns,
		fullName, defaultBranch, githubRepoID, installationID,
	), r)
	if err != nil {
		return nil, fmt.Errorf("upsert repository %s: %w", fullName, err)
	}
	return r, nil
}

// GetRepositoryByID looks up a repository by id.
func (s *Service) GetRepositoryByID(ctx context.Context, repoID string) (*Repository, error) {
	r := &Repository{}
	err := scanRepo(s.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = $1`, repoID), r)
	if err != nil {
		return nil, notFound(err, "get repository %s", repoID)
	}
	return r, nil
}

// ListRepositories returns all repositories ordered by name.
func (s *Service) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+repoColumns+` FROM repositories ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		if err := scanRepo(rows, &r); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// UpdateRepoDefaultBranch changes the branch analyses are compared against.
func (s *Service) UpdateRepoDefaultBranch(ctx context.Context, repoID, branch string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET default_branch = $1 WHERE id = $2`, branch, repoID)
	if err != nil {
		return fmt.Errorf("update repository %s: %w", repoID, err)
	}
	return requireAffected(res, "update repository %s", repoID)
}

// DeleteRepository removes a repository and, by cascade, its analyses.
func (s *Service) DeleteRepository(ctx context.Context, repoID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, repoID)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", repoID, err)
	}
	return requireAffected(res, "delete repository %s", repoID)
}

func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	if n == 0 {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return nil
}

const analysisColumns = `id, repo_id, pr_number, base_ref, head_ref, base_sha, head_sha, status,
	changed_files, changed_functions, max_level, max_score, blob_id, error_message, created_at`

func scanAnalysis(row interface{ Scan(...any) error }, a *AnalysisRow) error {
	return row.Scan(
		&a.ID, &a.RepoID, &a.PRNumber, &a.BaseRef, &a.HeadRef, &a.BaseSHA, &a.HeadSHA, &a.Status,
		&a.ChangedFiles, &a.ChangedFunctions, &a.MaxLevel, &a.MaxScore, &a.BlobID, &a.ErrorMessage, &a.CreatedAt,
	)
}

// RecordAnalysis inserts an analysis row. A second record for the same
// head commit and pull request replaces the first in place.
func (s *Service) RecordAnalysis(ctx context.Context, rec RecordAnalysis) (*AnalysisRow, error) {
	status := rec.Status
	if status == "" {
		status = StatusCompleted
	}
	maxLevel := rec.MaxLevel
	if maxLevel == "" {
		maxLevel = "none"
	}

	a := &AnalysisRow{}
	err := scanAnalysis(s.db.QueryRowContext(ctx,
		`INSERT INTO analyses (repo_id, pr_number, base_ref, head_ref, base_sha, head_sha, status,
		                       changed_files, changed_functions, max_level, max_score, blob_id, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (idempotency_key) DO UPDATE
		   SET base_ref = EXCLUDED.base_ref,
		       head_ref = EXCLUDED.head_ref,
		       base_sha = EXCLUDED.base_sha,
		       status = EXCLUDED.status,
		       changed_files = EXCLUDED.changed_files,
		       changed_functions = EXCLUDED.changed_functions,
		       max_level = EXCLUDED.max_level,
		       max_score = EXCLUDED.max_score,
		       blob_id = COALESCE(EXCLUDED.blob_id, analyses.blob_id),
		       error_message = NULL,
		       updated_at = now()
		 RETURNING `+analysisColumns,
		rec.RepoID, rec.PRNumber, rec.BaseRef, rec.HeadRef, rec.BaseSHA, rec.HeadSHA, status,
		rec.ChangedFiles, rec.ChangedFunctions, maxLevel, rec.MaxScore, nilIfEmpty(rec.BlobID),
		IdempotencyKey(rec.RepoID, rec.HeadSHA, rec.PRNumber),
	), a)
	if err != nil {
		return nil, fmt.Errorf("record analysis: %w", err)
	}
	return a, nil
}

// CreatePending inserts a pending analysis row. An existing row for the
// same head commit and pull request is returned unchanged.
func (s *Service) CreatePending(ctx context.Context, rec RecordAnalysis) (*AnalysisRow, error) {
	a := &AnalysisRow{}
	err := scanAnalysis(s.db.QueryRowContext(ctx,
		`INSERT INTO analyses (repo_id, pr_number, base_ref, head_ref, head_sha, status, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (idempotency_key) DO UPDATE SET updated_at = now()
		 RETURNING `+analysisColumns,
		rec.RepoID, rec.PRNumber, rec.BaseRef, rec.HeadRef, rec.HeadSHA, StatusPending,
		IdempotencyKey(rec.RepoID, rec.HeadSHA, rec.PRNumber),
	), a)
	if err != nil {
		return nil, fmt.Errorf("create pending analysis: %w", err)
	}
	return a, nil
}

// MarkFailed records why an analysis could not be completed.
func (s *Service) MarkFailed(ctx context.Context, analysisID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		StatusFailed, message, analysisID)
	if err != nil {
		return fmt.Errorf("mark analysis %s failed: %w", analysisID, err)
	}
	return requireAffected(res, "mark analysis %s failed", analysisID)
}

// ListAnalyses returns the analyses of a repository, newest first.
func (s *Service) ListAnalyses(ctx context.Context, repoID string, limit int) ([]AnalysisRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE repo_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRow
	for rows.Next() {
		var a AnalysisRow
		if err := scanAnalysis(rows, &a); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAnalysis returns a single analysis by id.
func (s *Service) GetAnalysis(ctx context.Context, analysisID string) (*AnalysisRow, error) {
	a := &AnalysisRow{}
	err := scanAnalysis(s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, analysisID), a)
	if err != nil {
		return nil, notFound(err, "get analysis %s", analysisID)
	}
	return a, nil
}

// LatestAnalysisForPR returns the most recent analysis of a pull request.
func (s *Service) LatestAnalysisForPR(ctx context.Context, repoID string, prNumber int) (*AnalysisRow, error) {
	a := &AnalysisRow{}
	err := scanAnalysis(s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE repo_id = $1 AND pr_number = $2
		 ORDER BY created_at DESC LIMIT 1`,
		repoID, prNumber), a)
	if err != nil {
		return nil, notFound(err, "get analysis for PR %d", prNumber)
	}
	return a, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
