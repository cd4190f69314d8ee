package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/changes"
	"github.com/callscope/callscope/pkg/config"
	"github.com/callscope/callscope/pkg/impact"
	"github.com/callscope/callscope/pkg/surface"
)

// exitCodeThreshold is returned when --fail-on is reached.
const exitCodeThreshold = 2

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOpts

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score the blast radius of the changed functions in a diff",
		Long: `Diffs two git refs (or reads a unified diff), builds the call graph of the
TypeScript project and reports every changed function with its callers,
impact score and entry points.

Examples:
  callscope analyze --base origin/main
  callscope analyze --base main --head feature --output markdown
  git diff -U0 main | callscope analyze --diff-file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.depthSet = cmd.Flags().Changed("depth")
			opts.topSet = cmd.Flags().Changed("top")
			return runAnalyze(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseRef, "base", "", "Base git ref to diff against")
	f.StringVar(&opts.headRef, "head", "", "Head git ref (default: working tree)")
	f.StringVar(&opts.diffFile, "diff-file", "", "Read a unified diff from this file, or - for stdin")
	f.StringVar(&opts.repoPath, "repo-path", "", "Path to the workspace (default: detect from the working directory)")
	f.StringVar(&opts.project, "project", "", "Path to tsconfig.json relative to the workspace")
	f.IntVar(&opts.depth, "depth", impact.Unbounded, "Maximum caller depth for trees and entry points (-1 = unbounded)")
	f.StringVar(&opts.output, "output", "", "Output format: text, json, markdown or html")
	f.IntVar(&opts.top, "top", 0, "Show at most this many changed functions (0 = all)")
	f.StringVar(&opts.failOn, "fail-on", "", "Exit with code 2 if any changed function reaches this level (low, medium, high, critical)")
	f.BoolVar(&opts.upload, "upload", false, "Upload the result to the configured callscoped server")
	f.StringVar(&opts.repository, "repository", "", "Repository name for --upload (default: $GITHUB_REPOSITORY or the workspace directory)")
	f.IntVar(&opts.prNumber, "pr", 0, "Pull request number for --upload")

	return cmd
}

type analyzeOpts struct {
	baseRef    string
	headRef    string
	diffFile   string
	repoPath   string
	project    string
	depth      int
	depthSet   bool
	output     string
	top        int
	topSet     bool
	failOn     string
	upload     bool
	repository string
	prNumber   int
}

func runAnalyze(ctx context.Context, opts analyzeOpts, stdout io.Writer) error {
	wsRoot, err := resolveWorkspace(opts.repoPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(wsRoot)
	if err != nil {
		return err
	}

	renderOpts, renderer, err := resolveRender(cfg, opts)
	if err != nil {
		return err
	}

	var threshold impact.Level
	if opts.failOn != "" {
		lv, ok := impact.ParseLevel(strings.ToLower(opts.failOn))
		if !ok || lv == impact.LevelNone {
			return fmt.Errorf("invalid --fail-on level %q (want low, medium, high or critical)", opts.failOn)
		}
		threshold = lv
	}

	if opts.diffFile == "" && opts.baseRef == "" {
		return fmt.Errorf("one of --base or --diff-file is required")
	}

	repoRoot := gitTopLevel(ctx, wsRoot)

	fmt.Fprintf(os.Stderr, "Step 1/3: Detecting changes...\n")
	var detector changes.ChangeDetector = changes.NewGitDetector()
	if opts.diffFile != "" {
		detector = &changes.PatchDetector{Path: opts.diffFile}
	}
	cd, err := detector.DetectChanges(ctx, changes.Request{
		RepoPath: repoRoot,
		BaseRef:  opts.baseRef,
		HeadRef:  opts.headRef,
	})
	if err != nil {
		return fmt.Errorf("detecting changes: %w", err)
	}
	fmt.Fprintf(os.Stderr, "  %d changed TypeScript files\n", len(cd.Files()))

	fmt.Fprintf(os.Stderr, "Step 2/3: Building call graph...\n")
	result, err := analysis.Analyze(ctx, analysis.Request{
		WorkDir:     wsRoot,
		RepoRoot:    repoRoot,
		ProjectPath: firstNonEmpty(opts.project, cfg.Analysis.Project),
		Changes:     cd.Lines,
		Wrappers:    cfg.Analysis.Wrappers,
		Concurrency: cfg.Analysis.ParseConcurrency,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "  %d functions, %d call sites\n", result.Stats.Functions, result.Stats.CallSites)

	fmt.Fprintf(os.Stderr, "Step 3/3: Scoring %d changed functions...\n", result.ChangedFunctions.Count())
	if err := renderer.Render(stdout, result, renderOpts); err != nil {
		return fmt.Errorf("rendering: %w", err)
	}

	report := newReport(ctx, repoRoot, opts, result)
	if path, err := analysis.SaveReport(config.ReportDir(wsRoot), report); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save report: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Report saved: %s\n", path)
	}

	if opts.upload {
		if err := uploadReport(ctx, cfg, opts, repoRoot, report); err != nil {
			return fmt.Errorf("uploading result: %w", err)
		}
	}

	if threshold != "" && surface.AnyAtLeast(result, threshold) {
		return &exitError{
			code: exitCodeThreshold,
			msg:  fmt.Sprintf("callscope: at least one changed function has %s impact or higher", threshold),
		}
	}
	return nil
}

// resolveRender merges flags over config and looks up the renderer before
// any expensive work runs.
func resolveRender(cfg *config.Config, opts analyzeOpts) (surface.Options, surface.Renderer, error) {
	ro := surface.DefaultOptions()
	ro.MaxDepth = cfg.Analysis.MaxDepth
	if opts.depthSet {
		ro.MaxDepth = opts.depth
	}
	if ro.MaxDepth < impact.Unbounded {
		return ro, nil, fmt.Errorf("invalid --depth %d: must be -1 or non-negative", ro.MaxDepth)
	}
	ro.Top = cfg.Output.Top
	if opts.topSet {
		ro.Top = opts.top
	}
	if ro.Top < 0 {
		return ro, nil, fmt.Errorf("invalid --top %d", ro.Top)
	}

	format := firstNonEmpty(opts.output, cfg.Output.Format, "text")
	renderer, err := surface.Lookup(surface.DefaultRegistry(), format)
	if err != nil {
		return ro, nil, err
	}
	return ro, renderer, nil
}

func newReport(ctx context.Context, repoRoot string, opts analyzeOpts, result *analysis.Result) *analysis.Report {
	var baseSHA, headSHA string
	if opts.baseRef != "" {
		baseSHA, _ = gitRevParse(ctx, repoRoot, opts.baseRef)
	}
	if opts.headRef != "" {
		headSHA, _ = gitRevParse(ctx, repoRoot, opts.headRef)
	}
	return &analysis.Report{
		ID:         analysis.ReportID(firstNonEmpty(baseSHA, "patch"), headSHA),
		Repository: filepath.Base(repoRoot),
		BaseRef:    opts.baseRef,
		HeadRef:    firstNonEmpty(opts.headRef, "worktree"),
		BaseSHA:    baseSHA,
		HeadSHA:    headSHA,
		AnalyzedAt: time.Now().UTC(),
		Result:     result,
	}
}

// uploadRequest mirrors the daemon's ingest body.
type uploadRequest struct {
	Repository    string           `json:"repository"`
	DefaultBranch string           `json:"default_branch,omitempty"`
	PRNumber      *int             `json:"pr_number,omitempty"`
	BaseRef       string           `json:"base_ref"`
	HeadRef       string           `json:"head_ref"`
	BaseSHA       string           `json:"base_sha"`
	HeadSHA       string           `json:"head_sha"`
	Result        *analysis.Result `json:"result"`
}

func uploadReport(ctx context.Context, cfg *config.Config, opts analyzeOpts, repoRoot string, report *analysis.Report) error {
	if cfg.Server.URL == "" {
		return fmt.Errorf("server.url is not set in .callscope/config.yaml")
	}

	headSHA := report.HeadSHA
	if headSHA == "" {
		sha, err := gitRevParse(ctx, repoRoot, "HEAD")
		if err != nil {
			return fmt.Errorf("resolving HEAD for upload: %w", err)
		}
		headSHA = sha
	}

	req := uploadRequest{
		Repository: firstNonEmpty(opts.repository, os.Getenv("GITHUB_REPOSITORY"), report.Repository),
		BaseRef:    report.BaseRef,
		HeadRef:    report.HeadRef,
		BaseSHA:    report.BaseSHA,
		HeadSHA:    headSHA,
		Result:     report.Result,
	}
	if opts.prNumber > 0 {
		n := opts.prNumber
		req.PRNumber = &n
	}

	body, err := gzipJSON(req)
	if err != nil {
		return err
	}

	url := strings.TrimRight(cfg.Server.URL, "/") + "/api/v1/analyses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Content-Encoding", "gzip")
	if key := cfg.APIKey(); key != "" {
		httpReq.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		AnalysisID string `json:"analysis_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Uploaded: analysis %s\n", out.AnalysisID)
	return nil
}

func gzipJSON(v any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress upload: %w", err)
	}
	return &buf, nil
}
