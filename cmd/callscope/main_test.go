package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/config"
	"github.com/callscope/callscope/pkg/surface"
)

func TestAnalyzeCmdFlags(t *testing.T) {
	cmd := newAnalyzeCmd()
	f := cmd.Flags()

	depth, _ := f.GetInt("depth")
	if depth != -1 {
		t.Errorf("default depth = %d, want -1", depth)
	}
	head, _ := f.GetString("head")
	if head != "" {
		t.Errorf("default head = %q, want working tree", head)
	}

	for _, flag := range []string{"base", "head", "diff-file", "repo-path", "project", "depth", "output", "top", "fail-on", "upload", "repository", "pr"} {
		if f.Lookup(flag) == nil {
			t.Errorf("missing flag: %s", flag)
		}
	}
}

func TestGraphCmdFlags(t *testing.T) {
	f := newGraphCmd().Flags()
	for _, flag := range []string{"repo-path", "project", "output"} {
		if f.Lookup(flag) == nil {
			t.Errorf("missing flag: %s", flag)
		}
	}
}

func TestWatchCmdFlags(t *testing.T) {
	f := newWatchCmd().Flags()
	base, _ := f.GetString("base")
	if base != "HEAD" {
		t.Errorf("default base = %q, want HEAD", base)
	}
	debounce, _ := f.GetDuration("debounce")
	if debounce != defaultDebounce {
		t.Errorf("default debounce = %v, want %v", debounce, defaultDebounce)
	}
}

func TestUICmdFlags(t *testing.T) {
	f := newUICmd().Flags()
	port, _ := f.GetString("port")
	if port != "7700" {
		t.Errorf("default port = %q, want 7700", port)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	want := []string{"analyze", "graph", "ui", "watch"}
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %s in %v", w, names)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"a", "b", "c"}, "a"},
		{[]string{"", "b", "c"}, "b"},
		{[]string{"", "", "c"}, "c"},
		{[]string{"", "", ""}, ""},
	}

	for _, tt := range tests {
		got := firstNonEmpty(tt.args...)
		if got != tt.want {
			t.Errorf("firstNonEmpty(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestResolveRender(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.MaxDepth = 4
	cfg.Output.Top = 3

	tests := []struct {
		name      string
		opts      analyzeOpts
		wantDepth int
		wantTop   int
		wantErr   bool
	}{
		{name: "config defaults", wantDepth: 4, wantTop: 3},
		{name: "flags override", opts: analyzeOpts{depth: 1, depthSet: true, top: 0, topSet: true}, wantDepth: 1, wantTop: 0},
		{name: "unbounded flag", opts: analyzeOpts{depth: -1, depthSet: true}, wantDepth: -1, wantTop: 3},
		{name: "negative depth", opts: analyzeOpts{depth: -2, depthSet: true}, wantErr: true},
		{name: "negative top", opts: analyzeOpts{top: -1, topSet: true}, wantErr: true},
		{name: "unknown format", opts: analyzeOpts{output: "yaml"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ro, r, err := resolveRender(cfg, tc.opts)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRender: %v", err)
			}
			if r == nil || ro.MaxDepth != tc.wantDepth || ro.Top != tc.wantTop {
				t.Errorf("got depth %d top %d, want %d/%d", ro.MaxDepth, ro.Top, tc.wantDepth, tc.wantTop)
			}
		})
	}

	_, _, err := resolveRender(cfg, analyzeOpts{output: "yaml"})
	if !errors.Is(err, surface.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestRunAnalyze_RequiresBaseOrDiff(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	err := runAnalyze(context.Background(), analyzeOpts{repoPath: dir, depth: -1}, os.Stdout)
	if err == nil {
		t.Fatal("expected an error without --base or --diff-file")
	}

	err = runAnalyze(context.Background(), analyzeOpts{repoPath: dir, depth: -1, failOn: "extreme", baseRef: "HEAD"}, os.Stdout)
	if err == nil {
		t.Error("expected an error for an unknown --fail-on level")
	}
}

func TestSkipDir(t *testing.T) {
	for name, want := range map[string]bool{
		"node_modules": true,
		".git":         true,
		".cache":       true,
		"dist":         true,
		"src":          false,
		"components":   false,
	} {
		if got := skipDir(name); got != want {
			t.Errorf("skipDir(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestChangeWatcher_CoalescesTypeScriptChanges(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := newChangeWatcher(root, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("newChangeWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan []string, 4)
	go func() {
		_ = w.Run(ctx, func(_ context.Context, files []string) { got <- files })
	}()

	for _, name := range []string{"a.ts", "b.tsx", "notes.md"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("export {}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case files := <-got:
		want := []string{filepath.Join(src, "a.ts"), filepath.Join(src, "b.tsx")}
		if !reflect.DeepEqual(files, want) {
			t.Errorf("changed files = %v, want %v", files, want)
		}
	case <-ctx.Done():
		t.Fatal("no change batch delivered")
	}
}

func sampleReport() *analysis.Report {
	g := callgraph.New()
	g.Define("a.ts:foo", callgraph.Definition{StartLine: 1, EndLine: 3})
	g.Define("b.ts:bar", callgraph.Definition{StartLine: 1, EndLine: 5})
	g.AddCaller("a.ts:foo", callgraph.CallSite{CallerID: "b.ts:bar", Line: 2})
	return &analysis.Report{
		ID:         "base1234_head5678",
		BaseRef:    "main",
		AnalyzedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Result: &analysis.Result{
			ChangedFiles:     []string{"a.ts"},
			ChangedFunctions: callgraph.ChangedFunctions{"a.ts": {"a.ts:foo"}},
			CallGraph:        g,
		},
	}
}

func TestLocalAPIServer(t *testing.T) {
	dir := t.TempDir()
	if _, err := analysis.SaveReport(dir, sampleReport()); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	s := &localAPIServer{repoName: "web", reportDir: dir, defaultBranch: "main"}
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	get := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
		return resp.StatusCode
	}

	var list []analysis.ReportSummary
	if code := get("/api/reports", &list); code != http.StatusOK || len(list) != 1 || list[0].ChangedFunctions != 1 {
		t.Errorf("list = %d %+v", code, list)
	}

	var rep analysis.Report
	if code := get("/api/reports/base1234", &rep); code != http.StatusOK || rep.ID != "base1234_head5678" {
		t.Errorf("prefix lookup = %d %+v", code, rep.ID)
	}

	var summary surface.Summary
	if code := get("/api/reports/base1234_head5678/summary", &summary); code != http.StatusOK || summary.ChangedFunctions != 1 {
		t.Errorf("summary = %d %+v", code, summary)
	}

	if code := get("/api/reports/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing report status = %d, want 404", code)
	}
	if code := get("/api/reports/missing/summary", nil); code != http.StatusNotFound {
		t.Errorf("missing report summary status = %d, want 404", code)
	}

	var repos []map[string]string
	if code := get("/api/repos", &repos); code != http.StatusOK || repos[0]["full_name"] != "web" {
		t.Errorf("repos = %d %v", code, repos)
	}
}

func TestLocalAPIServer_EmptyCache(t *testing.T) {
	s := &localAPIServer{reportDir: filepath.Join(t.TempDir(), "none")}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("empty listing = %d %q", rec.Code, rec.Body.String())
	}
}

func TestExitError(t *testing.T) {
	var err error = &exitError{code: 2, msg: "threshold reached"}
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 || err.Error() != "threshold reached" {
		t.Errorf("unexpected exit error %v", err)
	}
}

func TestLocalAPIServer_Graphs(t *testing.T) {
	dir := t.TempDir()
	if err := callgraph.SaveGraph(filepath.Join(dir, "abc123.json"), sampleReport().Result.CallGraph); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	s := &localAPIServer{graphDir: dir}
	mux := s.routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graphs/abc123?max_nodes=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var sub struct {
		Nodes     map[string]json.RawMessage `json:"nodes"`
		Truncated bool                       `json:"truncated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sub.Nodes) != 1 || !sub.Truncated {
		t.Errorf("expected one node truncated, got %d nodes (truncated=%v)", len(sub.Nodes), sub.Truncated)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graphs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing graph status = %d, want 404", rec.Code)
	}
}
