package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/config"
)

func newGraphCmd() *cobra.Command {
	var (
		repoPath string
		project  string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build the call graph of a TypeScript project and save it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), repoPath, project, output)
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo-path", "", "Path to the workspace (default: detect from the working directory)")
	cmd.Flags().StringVar(&project, "project", "", "Path to tsconfig.json relative to the workspace")
	cmd.Flags().StringVar(&output, "output", "", "Output path (default: ~/.cache/callscope/<repo>/graphs/<sha>.json)")

	return cmd
}

func runGraph(ctx context.Context, repoPath, project, output string) error {
	wsRoot, err := resolveWorkspace(repoPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(wsRoot)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Building call graph for %s...\n", wsRoot)
	result, err := analysis.Analyze(ctx, analysis.Request{
		WorkDir:     wsRoot,
		ProjectPath: firstNonEmpty(project, cfg.Analysis.Project),
		Wrappers:    cfg.Analysis.Wrappers,
		Concurrency: cfg.Analysis.ParseConcurrency,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}

	outPath := output
	if outPath == "" {
		sha, err := gitRevParse(ctx, wsRoot, "HEAD")
		if err != nil {
			sha = "worktree"
		}
		outPath = filepath.Join(config.GraphDir(wsRoot), sha+".json")
	}

	if err := callgraph.SaveGraph(outPath, result.CallGraph); err != nil {
		return fmt.Errorf("saving graph: %w", err)
	}

	st := result.Stats
	fmt.Fprintf(os.Stderr, "Graph saved to %s\n", outPath)
	fmt.Fprintf(os.Stderr, "  Files:      %d\n", st.Files)
	fmt.Fprintf(os.Stderr, "  Functions:  %d\n", result.CallGraph.Len())
	fmt.Fprintf(os.Stderr, "  Edges:      %d\n", result.CallGraph.EdgeCount())
	fmt.Fprintf(os.Stderr, "  Unresolved: %d\n", st.Unresolved)
	fmt.Fprintf(os.Stderr, "  Duration:   %dms\n", st.Elapsed.Milliseconds())
	return nil
}
