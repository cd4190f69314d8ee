package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/impact"
)

// ErrInvalidRequest is returned when an ingest request is missing
// required fields.
var ErrInvalidRequest = errors.New("invalid ingest request")

// Recorder is the slice of the catalog the ingestion service writes to.
type Recorder interface {
	UpsertRepository(ctx context.Context, fullName, defaultBranch string, githubRepoID, installationID *int64) (*catalog.Repository, error)
	RecordAnalysis(ctx context.Context, rec catalog.RecordAnalysis) (*catalog.AnalysisRow, error)
	CreatePending(ctx context.Context, rec catalog.RecordAnalysis) (*catalog.AnalysisRow, error)
	MarkFailed(ctx context.Context, analysisID, message string) error
}

// Request describes one analysis to record.
type Request struct {
	Repository     string
	DefaultBranch  string
	PRNumber       *int
	BaseRef        string
	HeadRef        string
	BaseSHA        string
	HeadSHA        string
	InstallationID *int64
	Result         *analysis.Result
}

// PendingRequest registers an analysis that a CI job is expected to upload.
type PendingRequest struct {
	Repository     string
	DefaultBranch  string
	GitHubRepoID   *int64
	InstallationID *int64
	PRNumber       *int
	BaseRef        string
	HeadRef        string
	HeadSHA        string
}

// Digest is the per-analysis aggregate stored alongside the row.
type Digest struct {
	ChangedFiles     int
	ChangedFunctions int
	MaxLevel         impact.Level
	MaxScore         int
}

// Service stores results and their catalog rows.
type Service struct {
	records Recorder
	storage StorageClient
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new ingestion Service.
func NewService(records Recorder, storage StorageClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, storage: storage, logger: logger, now: time.Now}
}

// Storage returns the blob storage backend.
func (s *Service) Storage() StorageClient {
	return s.storage
}

// DigestResult ranks the changed functions of r and aggregates the outcome.
func DigestResult(r *analysis.Result) Digest {
	d := Digest{MaxLevel: impact.LevelNone}
	if r == nil || r.CallGraph == nil {
		return d
	}
	d.ChangedFiles = len(r.ChangedFiles)
	for _, it := range impact.Rank(r.CallGraph, r.ChangedFunctions) {
		d.ChangedFunctions++
		if it.Score.Score > d.MaxScore {
			d.MaxScore = it.Score.Score
		}
		if it.Level.Rank() < d.MaxLevel.Rank() {
			d.MaxLevel = it.Level
		}
	}
	return d
}

// Ingest stores the result blob and records its analysis row.
func (s *Service) Ingest(ctx context.Context, req Request) (*catalog.AnalysisRow, error) {
	row, err := s.ingest(ctx, req)
	if err != nil {
		ingestTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	ingestTotal.WithLabelValues("completed").Inc()
	return row, nil
}

func (s *Service) ingest(ctx context.Context, req Request) (*catalog.AnalysisRow, error) {
	if req.Repository == "" || req.HeadSHA == "" {
		return nil, fmt.Errorf("%w: repository and head_sha are required", ErrInvalidRequest)
	}
	if req.Result == nil || req.Result.CallGraph == nil {
		return nil, fmt.Errorf("%w: result with a call graph is required", ErrInvalidRequest)
	}

	repo, err := s.records.UpsertRepository(ctx, req.Repository, req.DefaultBranch, nil, req.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("ensure repository: %w", err)
	}

	blobID := uuid.NewString()
	report := &analysis.Report{
		ID:         blobID,
		Repository: req.Repository,
		BaseRef:    req.BaseRef,
		HeadRef:    req.HeadRef,
		BaseSHA:    req.BaseSHA,
		HeadSHA:    req.HeadSHA,
		AnalyzedAt: s.now().UTC(),
		Result:     req.Result,
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if err := s.storage.PutResult(ctx, repo.ID, blobID, data); err != nil {
		err = fmt.Errorf("put result blob: %w", err)
		s.recordFailure(ctx, repo.ID, req, err)
		return nil, err
	}
	resultBytes.Observe(float64(len(data)))

	d := DigestResult(req.Result)
	changedFunctionsHist.Observe(float64(d.ChangedFunctions))

	row, err := s.records.RecordAnalysis(ctx, catalog.RecordAnalysis{
		RepoID:           repo.ID,
		PRNumber:         req.PRNumber,
		BaseRef:          req.BaseRef,
		HeadRef:          req.HeadRef,
		BaseSHA:          req.BaseSHA,
		HeadSHA:          req.HeadSHA,
		Status:           catalog.StatusCompleted,
		ChangedFiles:     d.ChangedFiles,
		ChangedFunctions: d.ChangedFunctions,
		MaxLevel:         string(d.MaxLevel),
		MaxScore:         d.MaxScore,
		BlobID:           blobID,
	})
	if err != nil {
		err = fmt.Errorf("record analysis (blob %s): %w", blobID, err)
		s.recordFailure(ctx, repo.ID, req, err)
		return nil, err
	}

	s.logger.Info("analysis ingested",
		"analysis_id", row.ID,
		"repository", req.Repository,
		"head_sha", req.HeadSHA,
		"changed_functions", d.ChangedFunctions,
		"max_level", d.MaxLevel,
	)
	return row, nil
}

// recordFailure leaves a FAILED row for the commit so the failure shows up
// in listings. A completed analysis of the same commit is not touched.
func (s *Service) recordFailure(ctx context.Context, repoID string, req Request, cause error) {
	row, err := s.records.CreatePending(ctx, catalog.RecordAnalysis{
		RepoID:   repoID,
		PRNumber: req.PRNumber,
		BaseRef:  req.BaseRef,
		HeadRef:  req.HeadRef,
		HeadSHA:  req.HeadSHA,
	})
	if err == nil && row.Status != catalog.StatusCompleted {
		err = s.records.MarkFailed(ctx, row.ID, cause.Error())
	}
	if err != nil {
		s.logger.Warn("could not record failed analysis", "repository", req.Repository, "head_sha", req.HeadSHA, "error", err)
	}
}

// RegisterPending records a pending analysis for a commit whose result
// will be uploaded later. A completed analysis of the same commit is left
// as it is.
func (s *Service) RegisterPending(ctx context.Context, req PendingRequest) (*catalog.AnalysisRow, error) {
	if req.Repository == "" || req.HeadSHA == "" {
		return nil, fmt.Errorf("%w: repository and head_sha are required", ErrInvalidRequest)
	}
	repo, err := s.records.UpsertRepository(ctx, req.Repository, req.DefaultBranch, req.GitHubRepoID, req.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("ensure repository: %w", err)
	}
	row, err := s.records.CreatePending(ctx, catalog.RecordAnalysis{
		RepoID:   repo.ID,
		PRNumber: req.PRNumber,
		BaseRef:  req.BaseRef,
		HeadRef:  req.HeadRef,
		HeadSHA:  req.HeadSHA,
	})
	if err != nil {
		return nil, fmt.Errorf("record pending analysis: %w", err)
	}
	ingestTotal.WithLabelValues("pending").Inc()
	return row, nil
}

// LoadReport fetches and decodes the result blob of an analysis row.
func (s *Service) LoadReport(ctx context.Context, row *catalog.AnalysisRow) (*analysis.Report, error) {
	if row.BlobID == nil {
		return nil, fmt.Errorf("analysis %s has no stored result: %w", row.ID, ErrNotFound)
	}
	data, err := s.storage.GetResult(ctx, row.RepoID, *row.BlobID)
	if err != nil {
		return nil, fmt.Errorf("load result blob: %w", err)
	}
	return analysis.DecodeReport(data)
}
