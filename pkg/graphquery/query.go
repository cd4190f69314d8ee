// Package graphquery provides shared graph algorithms for querying call
// graphs. Used by both the local UI server and the hosted platform API.
package graphquery

import (
	"sort"

	"github.com/callscope/callscope/pkg/callgraph"
)

// Direction selects which edges a neighborhood query follows.
type Direction string

const (
	Callers Direction = "callers"
	Callees Direction = "callees"
	Both    Direction = "both"
)

// ParseDirection maps a query parameter to a Direction. The empty string
// selects Both; "rdeps" and "deps" are accepted as aliases.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "", "both":
		return Both, true
	case "callers", "rdeps":
		return Callers, true
	case "callees", "deps":
		return Callees, true
	}
	return "", false
}

// Node is a function in a query result.
type Node struct {
	ID          callgraph.FunctionID `json:"id"`
	Name        string               `json:"name"`
	File        string               `json:"file"`
	StartLine   int                  `json:"start_line"`
	EndLine     int                  `json:"end_line"`
	CallerCount int                  `json:"caller_count"`
}

// Edge is a caller-to-callee relation with every call line.
type Edge struct {
	From  callgraph.FunctionID `json:"from"` // caller
	To    callgraph.FunctionID `json:"to"`   // callee
	Lines []int                `json:"lines"`
}

// FileNode represents an aggregated file in the file-level graph.
type FileNode struct {
	File          string `json:"file"`
	FunctionCount int    `json:"function_count"`
}

// FileEdge represents an aggregated edge between files.
type FileEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Weight int    `json:"weight"`
}

// SubgraphResult holds the result of a subgraph extraction or ego graph query.
type SubgraphResult struct {
	Nodes     map[callgraph.FunctionID]*Node `json:"nodes"`
	Edges     []Edge                         `json:"edges"`
	Truncated bool                           `json:"truncated,omitempty"`
}

// FileGraphResult holds the result of a file-level graph aggregation.
type FileGraphResult struct {
	Nodes     map[string]*FileNode `json:"nodes"`
	Edges     []FileEdge           `json:"edges"`
	Truncated bool                 `json:"truncated"`
}

// PathResult holds the result of a shortest-path query.
type PathResult struct {
	Paths      [][]callgraph.FunctionID       `json:"paths"`
	Nodes      map[callgraph.FunctionID]*Node `json:"nodes"`
	Edges      []Edge                         `json:"edges"`
	From       string                         `json:"from"`
	To         string                         `json:"to"`
	PathLength int                            `json:"path_length"`
}

// index is the edge list of a graph with adjacency in both directions.
type index struct {
	g     *callgraph.CallGraph
	edges []Edge
	fwd   map[callgraph.FunctionID][]int // caller -> edge indexes
	rev   map[callgraph.FunctionID][]int // callee -> edge indexes
}

func newIndex(g *callgraph.CallGraph) *index {
	ix := &index{
		g:   g,
		fwd: make(map[callgraph.FunctionID][]int),
		rev: make(map[callgraph.FunctionID][]int),
	}
	for _, callee := range g.IDs() {
		pos := make(map[callgraph.FunctionID]int)
		for _, site := range g.Callers(callee) {
			if i, ok := pos[site.CallerID]; ok {
				ix.edges[i].Lines = append(ix.edges[i].Lines, site.Line)
				continue
			}
			i := len(ix.edges)
			pos[site.CallerID] = i
			ix.edges = append(ix.edges, Edge{From: site.CallerID, To: callee, Lines: []int{site.Line}})
			ix.fwd[site.CallerID] = append(ix.fwd[site.CallerID], i)
			ix.rev[callee] = append(ix.rev[callee], i)
		}
	}
	return ix
}

// ids returns every function id, including callers never defined.
func (ix *index) ids() []callgraph.FunctionID {
	ids := ix.g.IDs()
	seen := make(map[callgraph.FunctionID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, e := range ix.edges {
		if !seen[e.From] {
			seen[e.From] = true
			ids = append(ids, e.From)
		}
	}
	return ids
}

func (ix *index) node(id callgraph.FunctionID) *Node {
	n := &Node{ID: id, Name: id.Name(), File: id.File()}
	if info, ok := ix.g.Get(id); ok {
		n.StartLine = info.Definition.StartLine
		n.EndLine = info.Definition.EndLine
		n.CallerCount = len(ix.rev[id])
	}
	return n
}

// resolve matches a query against function ids: exact id first, then every
// function of a file, then every function with that name.
func (ix *index) resolve(query string) []callgraph.FunctionID {
	ids := ix.ids()
	for _, id := range ids {
		if string(id) == query {
			return []callgraph.FunctionID{id}
		}
	}
	var matches []callgraph.FunctionID
	for _, id := range ids {
		if id.File() == query {
			matches = append(matches, id)
		}
	}
	if len(matches) > 0 {
		return matches
	}
	for _, id := range ids {
		if id.Name() == query {
			matches = append(matches, id)
		}
	}
	return matches
}

// result collects the visited nodes and the edges between them.
func (ix *index) result(visited map[callgraph.FunctionID]bool, truncated bool) *SubgraphResult {
	nodes := make(map[callgraph.FunctionID]*Node, len(visited))
	for id := range visited {
		nodes[id] = ix.node(id)
	}
	edges := []Edge{}
	for _, e := range ix.edges {
		if visited[e.From] && visited[e.To] {
			edges = append(edges, e)
		}
	}
	return &SubgraphResult{Nodes: nodes, Edges: edges, Truncated: truncated}
}

// ExtractSubgraph does BFS from roots to depth, collecting nodes and edges
// in both directions. Roots are matched like EgoGraph targets.
func ExtractSubgraph(g *callgraph.CallGraph, roots []string, depth int) *SubgraphResult {
	ix := newIndex(g)
	visited := make(map[callgraph.FunctionID]bool)
	var queue []callgraph.FunctionID
	for _, r := range roots {
		for _, id := range ix.resolve(r) {
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	ix.expand(visited, queue, depth, Both, 0)
	return ix.result(visited, false)
}

// expand runs a level-by-level BFS from queue, marking visited. It stops
// early once visited reaches maxNodes (0 means no cap) and reports whether
// it did.
func (ix *index) expand(visited map[callgraph.FunctionID]bool, queue []callgraph.FunctionID, depth int, dir Direction, maxNodes int) bool {
	for d := 0; d < depth && len(queue) > 0; d++ {
		var next []callgraph.FunctionID
		for _, id := range queue {
			if dir == Callees || dir == Both {
				for _, i := range ix.fwd[id] {
					if to := ix.edges[i].To; !visited[to] {
						visited[to] = true
						next = append(next, to)
					}
				}
			}
			if dir == Callers || dir == Both {
				for _, i := range ix.rev[id] {
					if from := ix.edges[i].From; !visited[from] {
						visited[from] = true
						next = append(next, from)
					}
				}
			}
		}
		queue = next

		if maxNodes > 0 && len(visited) >= maxNodes {
			return true
		}
	}
	return false
}

// CapGraph returns a subset of the graph with at most maxNodes nodes,
// preferring high-degree functions (most connected = most interesting).
func CapGraph(g *callgraph.CallGraph, maxNodes int) *SubgraphResult {
	ix := newIndex(g)
	ids := ix.ids()

	keep := make(map[callgraph.FunctionID]bool)
	if len(ids) <= maxNodes {
		for _, id := range ids {
			keep[id] = true
		}
		return ix.result(keep, false)
	}

	degree := make(map[callgraph.FunctionID]int)
	for _, e := range ix.edges {
		degree[e.From]++
		degree[e.To]++
	}
	ranked := append([]callgraph.FunctionID(nil), ids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return degree[ranked[i]] > degree[ranked[j]]
	})
	for i := 0; i < maxNodes && i < len(ranked); i++ {
		keep[ranked[i]] = true
	}
	return ix.result(keep, true)
}

// EgoGraph computes the neighborhood of a target function with directional
// control. maxNodes caps the result size (0 means 500).
func EgoGraph(g *callgraph.CallGraph, target string, depth int, dir Direction, maxNodes int) *SubgraphResult {
	if dir == "" {
		dir = Both
	}
	if maxNodes == 0 {
		maxNodes = 500
	}

	ix := newIndex(g)
	visited := make(map[callgraph.FunctionID]bool)
	queue := ix.resolve(target)
	if len(queue) == 0 {
		return &SubgraphResult{
			Nodes: map[callgraph.FunctionID]*Node{},
			Edges: []Edge{},
		}
	}
	for _, id := range queue {
		visited[id] = true
	}

	truncated := ix.expand(visited, queue, depth, dir, maxNodes)
	return ix.result(visited, truncated)
}

// FindPaths finds all shortest call chains from the functions matching
// fromQ to the functions matching toQ, following caller -> callee edges.
func FindPaths(g *callgraph.CallGraph, fromQ, toQ string, maxPaths int) *PathResult {
	if maxPaths <= 0 {
		maxPaths = 10
	}

	ix := newIndex(g)
	fromNodes := ix.resolve(fromQ)
	toNodes := ix.resolve(toQ)

	emptyResult := &PathResult{
		Paths: [][]callgraph.FunctionID{},
		Nodes: map[callgraph.FunctionID]*Node{},
		Edges: []Edge{},
		From:  fromQ,
		To:    toQ,
	}
	if len(fromNodes) == 0 || len(toNodes) == 0 {
		return emptyResult
	}

	toSet := make(map[callgraph.FunctionID]bool)
	for _, n := range toNodes {
		toSet[n] = true
	}

	type bfsEntry struct {
		node  callgraph.FunctionID
		depth int
	}
	parents := make(map[callgraph.FunctionID][]callgraph.FunctionID)
	dist := make(map[callgraph.FunctionID]int)

	var queue []bfsEntry
	for _, n := range fromNodes {
		dist[n] = 0
		queue = append(queue, bfsEntry{n, 0})
	}

	foundDepth := -1
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		if foundDepth >= 0 && curr.depth > foundDepth {
			break
		}
		if toSet[curr.node] {
			foundDepth = curr.depth
		}

		for _, i := range ix.fwd[curr.node] {
			neighbor := ix.edges[i].To
			nextDepth := curr.depth + 1
			if _, seen := dist[neighbor]; !seen {
				dist[neighbor] = nextDepth
				parents[neighbor] = []callgraph.FunctionID{curr.node}
				queue = append(queue, bfsEntry{neighbor, nextDepth})
			} else if dist[neighbor] == nextDepth {
				parents[neighbor] = append(parents[neighbor], curr.node)
			}
		}
	}

	var reachedTargets []callgraph.FunctionID
	for _, n := range toNodes {
		if d, ok := dist[n]; ok && (foundDepth < 0 || d == foundDepth) {
			reachedTargets = append(reachedTargets, n)
		}
	}
	if len(reachedTargets) == 0 {
		return emptyResult
	}

	fromSet := make(map[callgraph.FunctionID]bool)
	for _, n := range fromNodes {
		fromSet[n] = true
	}

	var allPaths [][]callgraph.FunctionID
	var backtrack func(node callgraph.FunctionID, path []callgraph.FunctionID)
	backtrack = func(node callgraph.FunctionID, path []callgraph.FunctionID) {
		if len(allPaths) >= maxPaths {
			return
		}
		current := make([]callgraph.FunctionID, len(path)+1)
		current[0] = node
		copy(current[1:], path)

		if fromSet[node] {
			allPaths = append(allPaths, current)
			return
		}
		for _, p := range parents[node] {
			backtrack(p, current)
		}
	}
	for _, target := range reachedTargets {
		if len(allPaths) >= maxPaths {
			break
		}
		backtrack(target, nil)
	}

	pathNodes := make(map[callgraph.FunctionID]bool)
	pathEdges := make(map[[2]callgraph.FunctionID]bool)
	for _, p := range allPaths {
		for _, n := range p {
			pathNodes[n] = true
		}
		for i := 0; i < len(p)-1; i++ {
			pathEdges[[2]callgraph.FunctionID{p[i], p[i+1]}] = true
		}
	}

	sub := ix.result(pathNodes, false)
	edges := []Edge{}
	for _, e := range sub.Edges {
		if pathEdges[[2]callgraph.FunctionID{e.From, e.To}] {
			edges = append(edges, e)
		}
	}

	return &PathResult{
		Paths:      allPaths,
		Nodes:      sub.Nodes,
		Edges:      edges,
		From:       fromQ,
		To:         toQ,
		PathLength: len(allPaths[0]) - 1,
	}
}

// AggregateFiles folds the function-level graph into a file-level graph.
// Edges lighter than minEdgeWeight are dropped; maxFiles caps the number of
// files (0 = 500 default), keeping the most connected.
func AggregateFiles(g *callgraph.CallGraph, minEdgeWeight, maxFiles int) *FileGraphResult {
	if minEdgeWeight < 1 {
		minEdgeWeight = 1
	}
	if maxFiles <= 0 {
		maxFiles = 500
	}

	ix := newIndex(g)
	fileNodes := make(map[string]*FileNode)
	for _, id := range ix.ids() {
		f := id.File()
		fn, ok := fileNodes[f]
		if !ok {
			fn = &FileNode{File: f}
			fileNodes[f] = fn
		}
		fn.FunctionCount++
	}

	edgeWeight := make(map[[2]string]int)
	var order [][2]string
	for _, e := range ix.edges {
		from, to := e.From.File(), e.To.File()
		if from == to {
			continue
		}
		key := [2]string{from, to}
		if _, ok := edgeWeight[key]; !ok {
			order = append(order, key)
		}
		edgeWeight[key] += len(e.Lines)
	}

	fileEdges := make([]FileEdge, 0)
	for _, key := range order {
		if w := edgeWeight[key]; w >= minEdgeWeight {
			fileEdges = append(fileEdges, FileEdge{From: key[0], To: key[1], Weight: w})
		}
	}

	truncated := false
	if len(fileNodes) > maxFiles {
		degree := make(map[string]int)
		for _, e := range fileEdges {
			degree[e.From]++
			degree[e.To]++
		}
		ranked := make([]string, 0, len(fileNodes))
		for f := range fileNodes {
			ranked = append(ranked, f)
		}
		sort.Slice(ranked, func(i, j int) bool {
			if degree[ranked[i]] != degree[ranked[j]] {
				return degree[ranked[i]] > degree[ranked[j]]
			}
			return ranked[i] < ranked[j]
		})
		keep := make(map[string]bool)
		for _, f := range ranked[:maxFiles] {
			keep[f] = true
		}
		for f := range fileNodes {
			if !keep[f] {
				delete(fileNodes, f)
			}
		}
		filtered := make([]FileEdge, 0)
		for _, e := range fileEdges {
			if keep[e.From] && keep[e.To] {
				filtered = append(filtered, e)
			}
		}
		fileEdges = filtered
		truncated = true
	}

	return &FileGraphResult{
		Nodes:     fileNodes,
		Edges:     fileEdges,
		Truncated: truncated,
	}
}
