package impact

import (
	"github.com/callscope/callscope/pkg/callgraph"
)

// EntryPoint is a transitive caller with no callers of its own: a place
// where the changed behavior can be exercised from outside.
type EntryPoint struct {
	ID    callgraph.FunctionID `json:"id"`
	Name  string               `json:"name"`
	File  string               `json:"file"`
	Line  int                  `json:"line"` // definition start of the entry point
	Depth int                  `json:"depth"`
	// Path is the chain from the changed function to the entry point, both included.
	Path []callgraph.FunctionID `json:"path"`
}

// CollectEntryPoints returns the caller-less functions reachable from id
// within maxDepth hops (Unbounded for none). A function reachable along
// several chains is reported once with its smallest depth. Results are
// ordered by depth, then discovery order. id itself is never an entry point.
func CollectEntryPoints(g *callgraph.CallGraph, id callgraph.FunctionID, maxDepth int) []EntryPoint {
	if !checkPresent(g, id) {
		return nil
	}

	type visit struct {
		id    callgraph.FunctionID
		depth int
	}
	parent := map[callgraph.FunctionID]callgraph.FunctionID{}
	seen := map[callgraph.FunctionID]bool{id: true}
	queue := []visit{{id: id}}
	var out []EntryPoint

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		info, ok := g.Get(cur.id)
		if !ok {
			checkPresent(g, cur.id)
			continue
		}
		if cur.id != id && len(info.Callers) == 0 {
			out = append(out, EntryPoint{
				ID:    cur.id,
				Name:  cur.id.Name(),
				File:  cur.id.File(),
				Line:  info.Definition.StartLine,
				Depth: cur.depth,
				Path:  pathTo(parent, id, cur.id),
			})
			continue
		}
		if maxDepth >= 0 && cur.depth >= maxDepth {
			continue
		}
		for _, site := range info.Callers {
			if seen[site.CallerID] {
				continue
			}
			seen[site.CallerID] = true
			parent[site.CallerID] = cur.id
			queue = append(queue, visit{id: site.CallerID, depth: cur.depth + 1})
		}
	}
	return out
}

func pathTo(parent map[callgraph.FunctionID]callgraph.FunctionID, root, leaf callgraph.FunctionID) []callgraph.FunctionID {
	var rev []callgraph.FunctionID
	for cur := leaf; ; cur = parent[cur] {
		rev = append(rev, cur)
		if cur == root {
			break
		}
	}
	out := make([]callgraph.FunctionID, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}
