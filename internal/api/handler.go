// Package api implements the callscope daemon's REST API: result ingestion
// and read endpoints over recorded analyses.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/internal/ingestion"
	"github.com/callscope/callscope/pkg/surface"
)

// Catalog is the read and admin surface of the catalog used by the API.
type Catalog interface {
	ListRepositories(ctx context.Context) ([]catalog.Repository, error)
	GetRepositoryByID(ctx context.Context, repoID string) (*catalog.Repository, error)
	UpdateRepoDefaultBranch(ctx context.Context, repoID, branch string) error
	DeleteRepository(ctx context.Context, repoID string) error
	ListAnalyses(ctx context.Context, repoID string, limit int) ([]catalog.AnalysisRow, error)
	GetAnalysis(ctx context.Context, analysisID string) (*catalog.AnalysisRow, error)
	LatestAnalysisForPR(ctx context.Context, repoID string, prNumber int) (*catalog.AnalysisRow, error)
}

// CheckRunPublisher posts a rendered summary as a GitHub check run.
type CheckRunPublisher interface {
	PublishCheckRun(ctx context.Context, installationID int64, owner, repo, headSHA string, data surface.CheckRunData) error
}

// Handler is the top-level API handler.
type Handler struct {
	catalog   Catalog
	ingestion *ingestion.Service
	cache     *ResultCache
	renderers *surface.Registry
	publisher CheckRunPublisher
	logger    *slog.Logger
}

// Options configures optional Handler collaborators.
type Options struct {
	Cache     *ResultCache
	Renderers *surface.Registry
	Publisher CheckRunPublisher
	Logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cat Catalog, ingestionSvc *ingestion.Service, opts Options) *Handler {
	h := &Handler{
		catalog:   cat,
		ingestion: ingestionSvc,
		cache:     opts.Cache,
		renderers: opts.Renderers,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
	if h.cache == nil {
		h.cache = NewResultCacheFromEnv()
	}
	if h.renderers == nil {
		h.renderers = surface.DefaultRegistry()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes registers the read endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/repos", h.handleListRepos)
	mux.HandleFunc("GET /api/repos/{repoID}/analyses", h.handleListAnalyses)
	mux.HandleFunc("GET /api/repos/{repoID}/prs/{prNumber}/analysis", h.handlePRAnalysis)
	mux.HandleFunc("GET /api/analyses/{analysisID}", h.handleGetAnalysis)

	routes := &ReportRoutes{Load: h.loadReport, Renderers: h.renderers}
	routes.Register(mux, "/api/analyses")
}

// RegisterWriteRoutes registers the mutating endpoints on mux, each
// wrapped by auth (typically APIKeyAuth).
func (h *Handler) RegisterWriteRoutes(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /api/v1/uploads", auth(http.HandlerFunc(h.handleUpload)))
	mux.Handle("POST /api/v1/analyses", auth(http.HandlerFunc(h.handleIngest)))
	mux.Handle("PATCH /api/repos/{repoID}", auth(http.HandlerFunc(h.handleUpdateRepo)))
	mux.Handle("DELETE /api/repos/{repoID}", auth(http.HandlerFunc(h.handleDeleteRepo)))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
