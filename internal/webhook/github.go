// Package webhook receives GitHub App webhook events and registers the
// analyses that CI is expected to upload for them.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSignature is returned when the X-Hub-Signature-256 header does
// not match the payload.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrUnsupportedEvent is returned by ParseEvent for event types the
// handler does not process.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// VerifySignature validates the X-Hub-Signature-256 header against the payload.
func VerifySignature(payload []byte, signature string, secret []byte) error {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("%w: missing sha256= prefix", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}

// InstallationEvent represents a GitHub App installation event.
type InstallationEvent struct {
	Action       string              `json:"action"`
	Installation InstallationPayload `json:"installation"`
	Repositories []GitHubRepository  `json:"repositories"`
	Sender       GitHubUser          `json:"sender"`
}

// InstallationPayload contains installation details.
type InstallationPayload struct {
	ID      int64      `json:"id"`
	Account GitHubUser `json:"account"`
}

// InstallationRepositoriesEvent represents repos added/removed from an installation.
type InstallationRepositoriesEvent struct {
	Action              string              `json:"action"`
	Installation        InstallationPayload `json:"installation"`
	RepositoriesAdded   []GitHubRepository  `json:"repositories_added"`
	RepositoriesRemoved []GitHubRepository  `json:"repositories_removed"`
}

// PullRequestEvent represents a pull request webhook event.
type PullRequestEvent struct {
	Action       string              `json:"action"`
	Number       int                 `json:"number"`
	PullRequest  PullRequestPayload  `json:"pull_request"`
	Repository   GitHubRepository    `json:"repository"`
	Installation InstallationPayload `json:"installation"`
}

// PullRequestPayload contains pull request details.
type PullRequestPayload struct {
	Number int        `json:"number"`
	Head   GitRef     `json:"head"`
	Base   GitRef     `json:"base"`
	State  string     `json:"state"`
	User   GitHubUser `json:"user"`
}

// PushEvent represents a push webhook event.
type PushEvent struct {
	Ref          string              `json:"ref"`
	Before       string              `json:"before"`
	After        string              `json:"after"`
	Repository   GitHubRepository    `json:"repository"`
	Installation InstallationPayload `json:"installation"`
}

// GitRef represents a git reference (branch head).
type GitRef struct {
	SHA  string           `json:"sha"`
	Ref  string           `json:"ref"`
	Repo GitHubRepository `json:"repo"`
}

// GitHubUser represents a GitHub user or organization.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// GitHubRepository represents a GitHub repository.
type GitHubRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// ParseEvent parses a webhook payload based on the event type.
func ParseEvent(eventType string, payload []byte) (any, error) {
	var e any
	switch eventType {
	case "installation":
		e = &InstallationEvent{}
	case "installation_repositories":
		e = &InstallationRepositoriesEvent{}
	case "pull_request":
		e = &PullRequestEvent{}
	case "push":
		e = &PushEvent{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("parse %s event: %w", eventType, err)
	}
	return e, nil
}

// tracksPullRequest reports whether a pull_request action changes the head
// commit and so needs a fresh analysis.
func tracksPullRequest(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}

// isDefaultBranchPush reports whether ref names the repository's default
// branch.
func isDefaultBranchPush(ref, defaultBranch string) bool {
	return ref == "refs/heads/"+defaultBranch
}
