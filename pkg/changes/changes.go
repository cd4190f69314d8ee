// Package changes turns version-control diffs into per-file changed lines.
// Implementations handle the source of the diff: git, a patch file, stdin.
package changes

import (
	"context"
	"time"

	"github.com/callscope/callscope/pkg/callgraph"
)

// ChangeDetector produces the changed lines between two revisions.
type ChangeDetector interface {
	// DetectChanges returns the lines touched between the requested revisions.
	DetectChanges(ctx context.Context, req Request) (*Result, error)
}

// Request specifies the revisions to compare.
type Request struct {
	RepoPath string `json:"repo_path"` // local filesystem path to repo root
	BaseRef  string `json:"base_ref"`
	HeadRef  string `json:"head_ref,omitempty"` // empty compares against the working tree
}

// Result holds the output of change detection. Paths in Lines are relative
// to the repository root and use forward slashes.
type Result struct {
	Lines    callgraph.ChangedLineSet `json:"lines"`
	Patch    []byte                   `json:"-"`
	Duration time.Duration            `json:"duration"`
}

// Files returns the changed files sorted by path.
func (r *Result) Files() []string {
	return r.Lines.Files()
}
