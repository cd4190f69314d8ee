package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/internal/ingestion"
)

const maxPayloadBytes = 10 << 20

// Repositories is the slice of the catalog the webhook writes to.
type Repositories interface {
	UpsertRepository(ctx context.Context, fullName, defaultBranch string, githubRepoID, installationID *int64) (*catalog.Repository, error)
}

// PendingRegistrar records analyses that CI will upload.
type PendingRegistrar interface {
	RegisterPending(ctx context.Context, req ingestion.PendingRequest) (*catalog.AnalysisRow, error)
}

// Handler processes incoming GitHub webhook events.
type Handler struct {
	webhookSecret []byte
	repos         Repositories
	pending       PendingRegistrar
	logger        *slog.Logger
}

// NewHandler creates a new webhook Handler.
func NewHandler(webhookSecret []byte, repos Repositories, pending PendingRegistrar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		webhookSecret: webhookSecret,
		repos:         repos,
		pending:       pending,
		logger:        logger,
	}
}

// ServeHTTP handles incoming webhook requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.webhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}
	if eventType == "ping" {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pong"})
		return
	}

	event, err := ParseEvent(eventType, body)
	if errors.Is(err, ErrUnsupportedEvent) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		h.logger.Warn("webhook parse error", "event", eventType, "error", err)
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if err := h.dispatch(r.Context(), event); err != nil {
		h.logger.Error("handle webhook event", "event", eventType, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (h *Handler) dispatch(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *InstallationEvent:
		return h.handleInstallation(ctx, e)
	case *InstallationRepositoriesEvent:
		return h.handleInstallationRepositories(ctx, e)
	case *PullRequestEvent:
		return h.handlePullRequest(ctx, e)
	case *PushEvent:
		return h.handlePush(ctx, e)
	}
	return nil
}

func (h *Handler) upsertRepos(ctx context.Context, installationID int64, repos []GitHubRepository) error {
	for _, repo := range repos {
		repoID := repo.ID
		instID := installationID
		if _, err := h.repos.UpsertRepository(ctx, repo.FullName, repo.DefaultBranch, &repoID, &instID); err != nil {
			return fmt.Errorf("upsert repository %s: %w", repo.FullName, err)
		}
		h.logger.Info("repository registered", "repository", repo.FullName, "installation_id", installationID)
	}
	return nil
}

func (h *Handler) handleInstallation(ctx context.Context, e *InstallationEvent) error {
	switch e.Action {
	case "created":
		if err := h.upsertRepos(ctx, e.Installation.ID, e.Repositories); err != nil {
			return fmt.Errorf("installation %d: %w", e.Installation.ID, err)
		}
		h.logger.Info("installation created", "installation_id", e.Installation.ID, "account", e.Installation.Account.Login)
	case "deleted":
		h.logger.Info("installation deleted; repositories kept", "installation_id", e.Installation.ID)
	}
	return nil
}

func (h *Handler) handleInstallationRepositories(ctx context.Context, e *InstallationRepositoriesEvent) error {
	if err := h.upsertRepos(ctx, e.Installation.ID, e.RepositoriesAdded); err != nil {
		return fmt.Errorf("installation %d: %w", e.Installation.ID, err)
	}
	for _, repo := range e.RepositoriesRemoved {
		h.logger.Info("repository removed from installation; analyses kept", "repository", repo.FullName, "installation_id", e.Installation.ID)
	}
	return nil
}

func (h *Handler) handlePullRequest(ctx context.Context, e *PullRequestEvent) error {
	if !tracksPullRequest(e.Action) {
		return nil
	}

	repoID := e.Repository.ID
	instID := e.Installation.ID
	number := e.Number
	row, err := h.pending.RegisterPending(ctx, ingestion.PendingRequest{
		Repository:     e.Repository.FullName,
		DefaultBranch:  e.Repository.DefaultBranch,
		GitHubRepoID:   &repoID,
		InstallationID: &instID,
		PRNumber:       &number,
		BaseRef:        e.PullRequest.Base.Ref,
		HeadRef:        e.PullRequest.Head.Ref,
		HeadSHA:        e.PullRequest.Head.SHA,
	})
	if err != nil {
		return fmt.Errorf("register pending analysis: %w", err)
	}

	h.logger.Info("pending analysis registered",
		"analysis_id", row.ID,
		"repository", e.Repository.FullName,
		"pr", e.Number,
		"head_sha", e.PullRequest.Head.SHA,
	)
	return nil
}

func (h *Handler) handlePush(ctx context.Context, e *PushEvent) error {
	if !isDefaultBranchPush(e.Ref, e.Repository.DefaultBranch) {
		return nil
	}

	repoID := e.Repository.ID
	instID := e.Installation.ID
	row, err := h.pending.RegisterPending(ctx, ingestion.PendingRequest{
		Repository:     e.Repository.FullName,
		DefaultBranch:  e.Repository.DefaultBranch,
		GitHubRepoID:   &repoID,
		InstallationID: &instID,
		BaseRef:        e.Before,
		HeadRef:        e.Repository.DefaultBranch,
		HeadSHA:        e.After,
	})
	if err != nil {
		return fmt.Errorf("register pending analysis: %w", err)
	}

	h.logger.Info("pending analysis registered for push",
		"analysis_id", row.ID,
		"repository", e.Repository.FullName,
		"head_sha", e.After,
	)
	return nil
}
