// Package analysis runs the full pipeline: load the TypeScript program,
// build its call graph and map a diff onto the functions it touches.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/tsmodel"
)

// Request describes one analysis run.
type Request struct {
	// WorkDir is the directory function ids are relative to.
	WorkDir string
	// RepoRoot is the directory the paths in Changes are relative to.
	// Defaults to WorkDir.
	RepoRoot string
	// ProjectPath locates tsconfig.json; relative paths resolve against WorkDir.
	ProjectPath string
	// Changes are the changed lines keyed by repo-relative, slash-separated path.
	Changes callgraph.ChangedLineSet

	Wrappers    []string
	Concurrency int
	Logger      *slog.Logger
}

// Result is the outcome of an analysis. Scores are not stored; consumers
// recompute them from the graph.
type Result struct {
	ChangedFiles     []string                   `json:"changedFiles"`
	ChangedFunctions callgraph.ChangedFunctions `json:"changedFunctions"`
	CallGraph        *callgraph.CallGraph       `json:"callGraph"`

	Stats callgraph.BuildStats `json:"-"`
}

// Analyze loads the project, builds the call graph and maps the changes.
func Analyze(ctx context.Context, req Request) (*Result, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workDir := req.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	projectPath := req.ProjectPath
	if projectPath == "" {
		projectPath = "tsconfig.json"
	}
	if !filepath.IsAbs(projectPath) {
		projectPath = filepath.Join(workDir, projectPath)
	}

	start := time.Now()
	project, err := tsmodel.LoadProject(projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	prog, err := tsmodel.Load(ctx, project, tsmodel.Options{
		WorkDir:     workDir,
		Concurrency: req.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	defer prog.Close()

	graph, stats, err := callgraph.Build(ctx, prog, callgraph.BuildOptions{
		Wrappers: req.Wrappers,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	repoRoot := req.RepoRoot
	if repoRoot == "" {
		repoRoot = workDir
	}
	if repoRoot, err = filepath.Abs(repoRoot); err != nil {
		return nil, fmt.Errorf("resolving repository root: %w", err)
	}
	changed := RebaseChanges(req.Changes, repoRoot, workDir)

	res := &Result{
		ChangedFiles:     changed.Files(),
		ChangedFunctions: callgraph.MapChanges(graph, changed),
		CallGraph:        graph,
		Stats:            stats,
	}

	logger.Info("analysis complete",
		slog.Int("changed_files", len(res.ChangedFiles)),
		slog.Int("changed_functions", res.ChangedFunctions.Count()),
		slog.Int("functions", stats.Functions),
		slog.Int("call_sites", stats.CallSites),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// RebaseChanges rewrites repo-relative, slash-separated paths into paths
// relative to workDir with OS separators, matching function id files.
// Paths outside workDir keep a ".." prefix and so match no function.
func RebaseChanges(changes callgraph.ChangedLineSet, repoRoot, workDir string) callgraph.ChangedLineSet {
	out := make(callgraph.ChangedLineSet, len(changes))
	for file, lines := range changes {
		abs := filepath.Join(repoRoot, filepath.FromSlash(file))
		rel, err := filepath.Rel(workDir, abs)
		if err != nil {
			rel = filepath.FromSlash(file)
		}
		for l := range lines {
			out.Add(rel, l)
		}
	}
	return out
}
