package surface

import (
	"fmt"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/impact"
)

// Summary is the derived view every renderer draws from. All scores are
// recomputed from the call graph.
type Summary struct {
	ChangedFiles     []string             `json:"changedFiles"`
	ChangedFunctions int                  `json:"changedFunctionCount"`
	MaxLevel         impact.Level         `json:"maxLevel"`
	LevelCounts      map[impact.Level]int `json:"levelCounts"`
	Groups           []GroupSummary       `json:"groups"`
	Hidden           int                  `json:"hiddenGroups,omitempty"`
}

// GroupSummary is one group with the primary function's details.
type GroupSummary struct {
	Primary     impact.Item         `json:"primary"`
	Related     []impact.Item       `json:"related"`
	EntryPoints []impact.EntryPoint `json:"entryPoints"`
	Tree        *impact.TreeNode    `json:"tree"`
}

// Summarize ranks and groups the changed functions of result and expands
// the primary of each shown group.
func Summarize(result *analysis.Result, opts Options) (*Summary, error) {
	if result == nil || result.CallGraph == nil {
		return nil, fmt.Errorf("summarizing: result has no call graph")
	}
	g := result.CallGraph

	items := impact.Rank(g, result.ChangedFunctions)
	groups := impact.Group(items, g)

	s := &Summary{
		ChangedFiles:     result.ChangedFiles,
		ChangedFunctions: len(items),
		MaxLevel:         impact.LevelNone,
		Groups:           []GroupSummary{},
		LevelCounts:      make(map[impact.Level]int),
	}
	if s.ChangedFiles == nil {
		s.ChangedFiles = []string{}
	}
	for _, it := range items {
		s.LevelCounts[it.Level]++
		if it.Level.Rank() < s.MaxLevel.Rank() {
			s.MaxLevel = it.Level
		}
	}

	shown := groups
	if opts.Top > 0 && len(groups) > opts.Top {
		shown = groups[:opts.Top]
		s.Hidden = len(groups) - opts.Top
	}
	for _, grp := range shown {
		tree, err := impact.BuildImpactTree(g, grp.Primary.ID, opts.MaxDepth)
		if err != nil {
			return nil, fmt.Errorf("building tree for %s: %w", grp.Primary.ID, err)
		}
		entries := impact.CollectEntryPoints(g, grp.Primary.ID, opts.MaxDepth)
		if entries == nil {
			entries = []impact.EntryPoint{}
		}
		s.Groups = append(s.Groups, GroupSummary{
			Primary:     grp.Primary,
			Related:     grp.Related,
			EntryPoints: entries,
			Tree:        tree,
		})
	}
	return s, nil
}

// AnyAtLeast reports whether a changed function of result reaches level.
func AnyAtLeast(result *analysis.Result, level impact.Level) bool {
	for _, id := range result.ChangedFunctions.All() {
		if impact.CalculateImpactScore(result.CallGraph, id).Level().AtLeast(level) {
			return true
		}
	}
	return false
}

func relatedNames(items []impact.Item) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

func displayID(id callgraph.FunctionID) string {
	return id.Name() + " (" + id.File() + ")"
}
