package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/internal/ingestion"
	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/surface"
)

const maxBodyBytes = 256 << 20

// ingestRequest is the JSON body for POST /api/v1/analyses.
type ingestRequest struct {
	Repository    string           `json:"repository"`
	DefaultBranch string           `json:"default_branch"`
	PRNumber      *int             `json:"pr_number,omitempty"`
	BaseRef       string           `json:"base_ref"`
	HeadRef       string           `json:"head_ref"`
	BaseSHA       string           `json:"base_sha"`
	HeadSHA       string           `json:"head_sha"`
	Result        *analysis.Result `json:"result,omitempty"`
	UploadID      string           `json:"upload_id,omitempty"`
}

type ingestResponse struct {
	AnalysisID       string `json:"analysis_id"`
	Status           string `json:"status"`
	ChangedFunctions int    `json:"changed_functions"`
	MaxLevel         string `json:"max_level"`
	MaxScore         int    `json:"max_score"`
}

// requestBody returns the request body, decompressing gzip when declared.
func requestBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") != "gzip" {
		return body, nil
	}
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return gz, nil
}

// handleUpload stores a result ahead of the ingest request that references
// it by upload_id. Used when the result is too large to send inline with
// the metadata.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := requestBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gzip body: "+err.Error())
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	var res analysis.Result
	if err := json.Unmarshal(data, &res); err != nil || res.CallGraph == nil {
		writeError(w, http.StatusBadRequest, "body is not an analysis result")
		return
	}

	uploadID := uuid.NewString()
	if err := h.ingestion.Storage().PutResult(r.Context(), ingestion.UploadsScope, uploadID, data); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"upload_id": uploadID})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := requestBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gzip body: "+err.Error())
		return
	}
	defer body.Close()

	var req ingestRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	if req.Result == nil && req.UploadID != "" {
		data, err := h.ingestion.Storage().GetResult(ctx, ingestion.UploadsScope, req.UploadID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to load referenced upload: "+err.Error())
			return
		}
		var res analysis.Result
		if err := json.Unmarshal(data, &res); err != nil {
			writeError(w, http.StatusBadRequest, "invalid referenced upload: "+err.Error())
			return
		}
		req.Result = &res
	}

	row, err := h.ingestion.Ingest(ctx, ingestion.Request{
		Repository:    req.Repository,
		DefaultBranch: req.DefaultBranch,
		PRNumber:      req.PRNumber,
		BaseRef:       req.BaseRef,
		HeadRef:       req.HeadRef,
		BaseSHA:       req.BaseSHA,
		HeadSHA:       req.HeadSHA,
		Result:        req.Result,
	})
	if errors.Is(err, ingestion.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("ingest failed", "repository", req.Repository, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record analysis")
		return
	}

	if req.PRNumber != nil {
		h.publishCheckRun(ctx, row, req.Result)
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		AnalysisID:       row.ID,
		Status:           row.Status,
		ChangedFunctions: row.ChangedFunctions,
		MaxLevel:         row.MaxLevel,
		MaxScore:         row.MaxScore,
	})
}

// publishCheckRun posts the markdown summary for a pull request analysis
// when the repository belongs to a GitHub App installation. Failures are
// logged and do not fail the ingest.
func (h *Handler) publishCheckRun(ctx context.Context, row *catalog.AnalysisRow, result *analysis.Result) {
	if h.publisher == nil {
		return
	}
	repo, err := h.catalog.GetRepositoryByID(ctx, row.RepoID)
	if err != nil || repo.GitHubInstallationID == nil {
		return
	}
	owner, name, ok := strings.Cut(repo.FullName, "/")
	if !ok {
		return
	}

	data, err := (&surface.MarkdownRenderer{}).BuildCheckRunData(result, surface.DefaultOptions())
	if err != nil {
		h.logger.Warn("build check run", "analysis_id", row.ID, "error", err)
		return
	}
	if err := h.publisher.PublishCheckRun(ctx, *repo.GitHubInstallationID, owner, name, row.HeadSHA, data); err != nil {
		h.logger.Warn("publish check run", "analysis_id", row.ID, "repository", repo.FullName, "error", err)
		return
	}
	h.logger.Info("check run published", "analysis_id", row.ID, "repository", repo.FullName, "conclusion", data.Conclusion)
}
