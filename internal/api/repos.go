package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/callscope/callscope/internal/catalog"
)

type repoResponse struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type analysisResponse struct {
	ID               string `json:"id"`
	RepoID           string `json:"repo_id"`
	PRNumber         *int   `json:"pr_number,omitempty"`
	BaseRef          string `json:"base_ref"`
	HeadRef          string `json:"head_ref"`
	BaseSHA          string `json:"base_sha"`
	HeadSHA          string `json:"head_sha"`
	Status           string `json:"status"`
	ChangedFiles     int    `json:"changed_files"`
	ChangedFunctions int    `json:"changed_functions"`
	MaxLevel         string `json:"max_level"`
	MaxScore         int    `json:"max_score"`
	Error            string `json:"error,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func analysisRowToResponse(a *catalog.AnalysisRow) analysisResponse {
	resp := analysisResponse{
		ID:               a.ID,
		RepoID:           a.RepoID,
		PRNumber:         a.PRNumber,
		BaseRef:          a.BaseRef,
		HeadRef:          a.HeadRef,
		BaseSHA:          a.BaseSHA,
		HeadSHA:          a.HeadSHA,
		Status:           a.Status,
		ChangedFiles:     a.ChangedFiles,
		ChangedFunctions: a.ChangedFunctions,
		MaxLevel:         a.MaxLevel,
		MaxScore:         a.MaxScore,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.ErrorMessage != nil {
		resp.Error = *a.ErrorMessage
	}
	return resp
}

func (h *Handler) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.catalog.ListRepositories(r.Context())
	if err != nil {
		h.logger.Error("list repositories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list repositories")
		return
	}

	result := make([]repoResponse, 0, len(repos))
	for _, repo := range repos {
		result = append(result, repoResponse{
			ID:            repo.ID,
			FullName:      repo.FullName,
			DefaultBranch: repo.DefaultBranch,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("repoID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := h.catalog.ListAnalyses(r.Context(), repoID, limit)
	if err != nil {
		h.logger.Error("list analyses", "repo_id", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	result := make([]analysisResponse, 0, len(rows))
	for i := range rows {
		result = append(result, analysisRowToResponse(&rows[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePRAnalysis(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("repoID")
	prNumber, err := strconv.Atoi(r.PathValue("prNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pr number")
		return
	}

	row, err := h.catalog.LatestAnalysisForPR(r.Context(), repoID, prNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no analysis found for PR")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query analysis")
		return
	}
	writeJSON(w, http.StatusOK, analysisRowToResponse(row))
}

type updateRepoRequest struct {
	DefaultBranch string `json:"default_branch"`
}

func (h *Handler) handleUpdateRepo(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("repoID")

	var req updateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DefaultBranch == "" {
		writeError(w, http.StatusBadRequest, "default_branch is required")
		return
	}

	err := h.catalog.UpdateRepoDefaultBranch(r.Context(), repoID, req.DefaultBranch)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update repository: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("repoID")

	err := h.catalog.DeleteRepository(r.Context(), repoID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete repository: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
