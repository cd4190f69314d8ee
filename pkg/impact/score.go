// Package impact computes the blast radius of a function over a frozen call
// graph: transitive callers, longest caller chain, score, caller tree, entry
// points and presentation groups. Every function here is pure given the graph.
package impact

import (
	"log/slog"

	"github.com/callscope/callscope/pkg/callgraph"
)

// Unbounded is the depth limit meaning "no limit".
const Unbounded = -1

// DepthWeight multiplies chain length in the score: a long chain of callers
// counts for more than the same number of callers at one layer.
const DepthWeight = 3

// Level is the categorical label derived from a score.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelNone     Level = "none"
)

// Levels lists every level from most to least severe.
var Levels = []Level{LevelCritical, LevelHigh, LevelMedium, LevelLow, LevelNone}

// LevelFor maps a score to its level. The cut points are fixed policy.
func LevelFor(score int) Level {
	switch {
	case score >= 20:
		return LevelCritical
	case score >= 10:
		return LevelHigh
	case score >= 4:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelNone
	}
}

// Rank returns the position of l in Levels; lower is more severe.
func (l Level) Rank() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return len(Levels)
}

// AtLeast reports whether l is as severe as min or more.
func (l Level) AtLeast(min Level) bool {
	return l.Rank() <= min.Rank()
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, bool) {
	for _, lv := range Levels {
		if string(lv) == s {
			return lv, true
		}
	}
	return "", false
}

// Score is the impact of one function.
type Score struct {
	Score   int `json:"score"`
	Breadth int `json:"breadth"`
	Depth   int `json:"depth"`
}

// Level returns the label for the score.
func (s Score) Level() Level {
	return LevelFor(s.Score)
}

// CalculateImpactScore computes breadth, depth and breadth + depth*3 for id.
func CalculateImpactScore(g *callgraph.CallGraph, id callgraph.FunctionID) Score {
	breadth := len(CollectAllDependents(g, id, 0))
	depth := MaxImpactDepth(g, id)
	return Score{
		Score:   breadth + depth*DepthWeight,
		Breadth: breadth,
		Depth:   depth,
	}
}

func checkPresent(g *callgraph.CallGraph, id callgraph.FunctionID) bool {
	if _, ok := g.Get(id); ok {
		return true
	}
	slog.Debug("impact traversal target not in call graph", slog.String("id", string(id)))
	return false
}
