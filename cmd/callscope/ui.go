package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/api"
	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/config"
	"github.com/callscope/callscope/pkg/graphquery"
	"github.com/callscope/callscope/pkg/surface"
)

func newUICmd() *cobra.Command {
	var (
		repoPath string
		port     string
	)

	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve saved analysis reports over a local JSON API",
		Long: `Starts an HTTP server on localhost that serves the reports saved by
"callscope analyze" from the local cache, including impact trees, entry
points, ego graphs and caller paths for any function in a report.

Routes:
  GET /api/repos
  GET /api/reports
  GET /api/reports/{id}
  GET /api/reports/{id}/summary|report|tree|entrypoints|ego|path|files|subgraph
  GET /api/graphs/{sha}    (graphs saved by "callscope graph", capped)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runUI(ctx, repoPath, port)
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo-path", "", "Path to the workspace (default: detect from the working directory)")
	cmd.Flags().StringVar(&port, "port", "7700", "Port to serve on")

	return cmd
}

func runUI(ctx context.Context, repoPath, port string) error {
	wsRoot, err := resolveWorkspace(repoPath)
	if err != nil {
		return err
	}

	srv := &localAPIServer{
		repoName:      filepath.Base(wsRoot),
		reportDir:     config.ReportDir(wsRoot),
		graphDir:      config.GraphDir(wsRoot),
		defaultBranch: detectDefaultBranch(ctx, wsRoot),
	}

	httpSrv := &http.Server{
		Addr:              "localhost:" + port,
		Handler:           api.CORS(srv.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Fprintf(os.Stderr, "callscope API server\n")
	fmt.Fprintf(os.Stderr, "  Repo:       %s\n", wsRoot)
	fmt.Fprintf(os.Stderr, "  Reports:    %s\n", srv.reportDir)
	fmt.Fprintf(os.Stderr, "  Listening:  http://localhost:%s\n", port)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

type localAPIServer struct {
	repoName      string
	reportDir     string
	graphDir      string
	defaultBranch string
}

const maxGraphNodes = 500

func (s *localAPIServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/repos", s.handleRepos)
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("GET /api/graphs/{sha}", s.handleGetGraph)
	(&api.ReportRoutes{Load: s.loadReport, Renderers: surface.DefaultRegistry()}).Register(mux, "/api/reports")
	return mux
}

func (s *localAPIServer) handleRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]string{{
		"id":             "local",
		"full_name":      s.repoName,
		"default_branch": s.defaultBranch,
	}})
}

func (s *localAPIServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := analysis.ListReports(s.reportDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []analysis.ReportSummary{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *localAPIServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.loadReport(r.Context(), r.PathValue("id"))
	if errors.Is(err, api.ErrReportNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *localAPIServer) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	sha := r.PathValue("sha")
	if strings.ContainsAny(sha, `/\`) || strings.Contains(sha, "..") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "graph not found"})
		return
	}
	g, err := callgraph.LoadGraph(filepath.Join(s.graphDir, sha+".json"))
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "graph not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, graphquery.CapGraph(g, intQuery(r, "max_nodes", maxGraphNodes)))
}

func intQuery(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

// loadReport finds a report by exact id, falling back to the first file
// whose name starts with id.
func (s *localAPIServer) loadReport(_ context.Context, id string) (*analysis.Report, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, api.ErrReportNotFound
	}

	rep, err := analysis.LoadReport(filepath.Join(s.reportDir, id+".json"))
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	entries, err := os.ReadDir(s.reportDir)
	if err != nil {
		return nil, api.ErrReportNotFound
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), id) && strings.HasSuffix(e.Name(), ".json") {
			return analysis.LoadReport(filepath.Join(s.reportDir, e.Name()))
		}
	}
	return nil, api.ErrReportNotFound
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}
