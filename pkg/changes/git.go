package changes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// GitDetector runs `git diff` against a local checkout.
type GitDetector struct {
	// GitPath is the git binary. Empty means "git" on PATH.
	GitPath string
}

// NewGitDetector creates a detector using the git binary on PATH.
func NewGitDetector() *GitDetector {
	return &GitDetector{GitPath: "git"}
}

// DetectChanges diffs BaseRef against HeadRef, or against the working tree
// when HeadRef is empty.
func (g *GitDetector) DetectChanges(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.BaseRef == "" {
		return nil, fmt.Errorf("git diff: base ref is required")
	}

	args := []string{"diff", "--no-color", "--no-ext-diff", "-U0", req.BaseRef}
	if req.HeadRef != "" {
		args = append(args, req.HeadRef)
	}
	args = append(args, "--")
	for _, ext := range TrackedExtensions {
		args = append(args, "*"+ext)
	}

	patch, err := g.run(ctx, req.RepoPath, args...)
	if err != nil {
		return nil, err
	}

	lines, err := ParseUnifiedDiff(patch)
	if err != nil {
		return nil, err
	}
	return &Result{Lines: lines, Patch: patch, Duration: time.Since(start)}, nil
}

func (g *GitDetector) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := g.GitPath
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s failed: %w\nstderr: %s", args[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// PatchDetector reads a precomputed unified diff. Path "-" reads Reader
// (stdin when Reader is nil).
type PatchDetector struct {
	Path   string
	Reader io.Reader
}

// DetectChanges ignores the revisions in req and parses the patch.
func (p *PatchDetector) DetectChanges(ctx context.Context, _ Request) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		patch []byte
		err   error
	)
	if p.Path == "-" || p.Path == "" {
		r := p.Reader
		if r == nil {
			r = os.Stdin
		}
		patch, err = io.ReadAll(r)
	} else {
		patch, err = os.ReadFile(p.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}

	lines, err := ParseUnifiedDiff(patch)
	if err != nil {
		return nil, err
	}
	return &Result{Lines: lines, Patch: patch, Duration: time.Since(start)}, nil
}
