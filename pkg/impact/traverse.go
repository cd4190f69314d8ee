package impact

import (
	"github.com/callscope/callscope/pkg/callgraph"
)

// CollectAllDependents returns every function reachable from id over one or
// more caller edges, in depth-first discovery order. id itself is never
// included, even when a cycle leads back to it. maxCount <= 0 means no limit.
func CollectAllDependents(g *callgraph.CallGraph, id callgraph.FunctionID, maxCount int) []callgraph.FunctionID {
	if !checkPresent(g, id) {
		return nil
	}

	visited := map[callgraph.FunctionID]bool{id: true}
	var out []callgraph.FunctionID
	stack := []callgraph.FunctionID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		callers := g.Callers(cur)
		for i := len(callers) - 1; i >= 0; i-- {
			c := callers[i].CallerID
			if visited[c] {
				continue
			}
			visited[c] = true
			out = append(out, c)
			if maxCount > 0 && len(out) >= maxCount {
				return out
			}
			stack = append(stack, c)
		}
	}
	return out
}

// DependentSet is CollectAllDependents as a set.
func DependentSet(g *callgraph.CallGraph, id callgraph.FunctionID) map[callgraph.FunctionID]bool {
	deps := CollectAllDependents(g, id, 0)
	set := make(map[callgraph.FunctionID]bool, len(deps))
	for _, d := range deps {
		set[d] = true
	}
	return set
}

type depthFrame struct {
	id        callgraph.FunctionID
	next      int
	best      int
	truncated bool
}

// MaxImpactDepth returns the length of the longest chain of callers starting
// at id, 0 when id has no callers. A caller already on the current chain is
// not followed, so cycles end the branch without adding a hop.
//
// The walk keeps its own stack. Results of subtrees that never met a cycle
// do not depend on the chain leading to them and are reused.
func MaxImpactDepth(g *callgraph.CallGraph, id callgraph.FunctionID) int {
	if !checkPresent(g, id) {
		return 0
	}

	onPath := map[callgraph.FunctionID]bool{id: true}
	memo := make(map[callgraph.FunctionID]int)
	stack := []depthFrame{{id: id}}

	for {
		top := &stack[len(stack)-1]
		callers := g.Callers(top.id)
		if top.next < len(callers) {
			c := callers[top.next].CallerID
			top.next++
			if onPath[c] {
				top.truncated = true
				continue
			}
			if d, ok := memo[c]; ok {
				top.best = max(top.best, d+1)
				continue
			}
			onPath[c] = true
			stack = append(stack, depthFrame{id: c})
			continue
		}

		done := *top
		stack = stack[:len(stack)-1]
		delete(onPath, done.id)
		if !done.truncated {
			memo[done.id] = done.best
		}
		if len(stack) == 0 {
			return done.best
		}
		parent := &stack[len(stack)-1]
		parent.best = max(parent.best, done.best+1)
		parent.truncated = parent.truncated || done.truncated
	}
}
