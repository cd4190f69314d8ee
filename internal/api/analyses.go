package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/callscope/callscope/internal/catalog"
	"github.com/callscope/callscope/internal/ingestion"
	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/graphquery"
	"github.com/callscope/callscope/pkg/impact"
	"github.com/callscope/callscope/pkg/surface"
)

// ErrReportNotFound is returned by a ReportLoader for unknown ids.
var ErrReportNotFound = errors.New("report not found")

// ReportLoader fetches a report by id.
type ReportLoader func(ctx context.Context, id string) (*analysis.Report, error)

// ReportRoutes serves read-only queries over stored reports. The daemon
// mounts it over the catalog; the CLI mounts it over the local cache.
type ReportRoutes struct {
	Load      ReportLoader
	Renderers *surface.Registry
}

// Register mounts the routes under prefix, e.g. "/api/analyses".
func (rr *ReportRoutes) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/{id}/summary", rr.handleSummary)
	mux.HandleFunc("GET "+prefix+"/{id}/report", rr.handleReport)
	mux.HandleFunc("GET "+prefix+"/{id}/tree", rr.handleTree)
	mux.HandleFunc("GET "+prefix+"/{id}/entrypoints", rr.handleEntryPoints)
	mux.HandleFunc("GET "+prefix+"/{id}/ego", rr.handleEgo)
	mux.HandleFunc("GET "+prefix+"/{id}/path", rr.handlePath)
	mux.HandleFunc("GET "+prefix+"/{id}/files", rr.handleFiles)
	mux.HandleFunc("GET "+prefix+"/{id}/subgraph", rr.handleSubgraph)
}

// load resolves the report named by the {id} path value, writing the error
// response itself when it fails.
func (rr *ReportRoutes) load(w http.ResponseWriter, r *http.Request) (*analysis.Report, bool) {
	rep, err := rr.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analysis: "+err.Error())
		return nil, false
	}
	return rep, true
}

// defaultQueryDepth applies when a request names no depth. depth=-1 asks
// for an unbounded walk explicitly.
const defaultQueryDepth = 16

// depthParam parses the depth query parameter.
func depthParam(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("depth")
	if v == "" {
		return def, nil
	}
	d, err := strconv.Atoi(v)
	if err != nil || d < impact.Unbounded {
		return 0, fmt.Errorf("depth must be an integer >= -1")
	}
	return d, nil
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// functionParam returns the function named by the query parameter, which
// must exist in the graph.
func functionParam(w http.ResponseWriter, r *http.Request, g *callgraph.CallGraph) (callgraph.FunctionID, bool) {
	fn := callgraph.FunctionID(r.URL.Query().Get("function"))
	if fn == "" {
		writeError(w, http.StatusBadRequest, "function parameter required")
		return "", false
	}
	if _, ok := g.Get(fn); !ok {
		writeError(w, http.StatusNotFound, "function not found")
		return "", false
	}
	return fn, true
}

func (rr *ReportRoutes) handleSummary(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	depth, err := depthParam(r, defaultQueryDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := surface.DefaultOptions()
	opts.MaxDepth = depth
	opts.Top = intParam(r, "top", 0)

	s, err := surface.Summarize(rep.Result, opts)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

var reportContentTypes = map[string]string{
	"json":     "application/json",
	"html":     "text/html; charset=utf-8",
	"markdown": "text/markdown; charset=utf-8",
	"text":     "text/plain; charset=utf-8",
}

func (rr *ReportRoutes) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	renderer, err := surface.Lookup(rr.Renderers, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth, err := depthParam(r, defaultQueryDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := surface.DefaultOptions()
	opts.MaxDepth = depth
	opts.Top = intParam(r, "top", 0)

	var buf bytes.Buffer
	if err := renderer.Render(&buf, rep.Result, opts); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ct, ok := reportContentTypes[format]
	if !ok {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rr *ReportRoutes) handleTree(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	g := rep.Result.CallGraph
	fn, ok := functionParam(w, r, g)
	if !ok {
		return
	}
	depth, err := depthParam(r, defaultQueryDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tree, err := impact.BuildImpactTree(g, fn, depth)
	if errors.Is(err, impact.ErrTraversalTooDeep) {
		writeError(w, http.StatusUnprocessableEntity, "caller tree too deep; pass a depth")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"function": fn,
		"impact":   impact.CalculateImpactScore(g, fn),
		"tree":     tree,
	})
}

func (rr *ReportRoutes) handleEntryPoints(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	g := rep.Result.CallGraph
	fn, ok := functionParam(w, r, g)
	if !ok {
		return
	}
	depth, err := depthParam(r, defaultQueryDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eps := impact.CollectEntryPoints(g, fn, depth)
	if eps == nil {
		eps = []impact.EntryPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"function":    fn,
		"entryPoints": eps,
	})
}

func (rr *ReportRoutes) handleEgo(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target parameter required")
		return
	}
	dir, ok := graphquery.ParseDirection(r.URL.Query().Get("direction"))
	if !ok {
		writeError(w, http.StatusBadRequest, "direction must be callers, callees or both")
		return
	}
	depth := intParam(r, "depth", 2)
	maxNodes := intParam(r, "max_nodes", 0)

	writeJSON(w, http.StatusOK, graphquery.EgoGraph(rep.Result.CallGraph, target, depth, dir, maxNodes))
}

func (rr *ReportRoutes) handlePath(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	fromQ := r.URL.Query().Get("from")
	toQ := r.URL.Query().Get("to")
	if fromQ == "" || toQ == "" {
		writeError(w, http.StatusBadRequest, "from and to parameters required")
		return
	}
	maxPaths := intParam(r, "max_paths", 10)

	writeJSON(w, http.StatusOK, graphquery.FindPaths(rep.Result.CallGraph, fromQ, toQ, maxPaths))
}

func (rr *ReportRoutes) handleFiles(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	minEdgeWeight := intParam(r, "min_edge_weight", 1)
	maxFiles := intParam(r, "max_files", 0)

	writeJSON(w, http.StatusOK, graphquery.AggregateFiles(rep.Result.CallGraph, minEdgeWeight, maxFiles))
}

func (rr *ReportRoutes) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	rep, ok := rr.load(w, r)
	if !ok {
		return
	}
	g := rep.Result.CallGraph
	roots := r.URL.Query()["root"]
	if len(roots) == 0 {
		writeJSON(w, http.StatusOK, graphquery.CapGraph(g, intParam(r, "max_nodes", 500)))
		return
	}
	writeJSON(w, http.StatusOK, graphquery.ExtractSubgraph(g, roots, intParam(r, "depth", 2)))
}

// loadReport loads the result of an analysis row through the cache.
func (h *Handler) loadReport(ctx context.Context, analysisID string) (*analysis.Report, error) {
	return h.cache.GetOrLoad(ctx, analysisID, func(ctx context.Context) (*analysis.Report, error) {
		row, err := h.catalog.GetAnalysis(ctx, analysisID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		if err != nil {
			return nil, err
		}
		rep, err := h.ingestion.LoadReport(ctx, row)
		if errors.Is(err, ingestion.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return rep, err
	})
}

type analysisDetail struct {
	analysisResponse
	Report *analysis.Report `json:"report,omitempty"`
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("analysisID")
	row, err := h.catalog.GetAnalysis(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query analysis")
		return
	}

	detail := analysisDetail{analysisResponse: analysisRowToResponse(row)}
	if row.BlobID != nil {
		rep, err := h.loadReport(r.Context(), id)
		if err != nil {
			h.logger.Warn("load analysis result", "analysis_id", id, "error", err)
		} else {
			detail.Report = rep
		}
	}
	writeJSON(w, http.StatusOK, detail)
}
