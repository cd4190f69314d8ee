package impact

import (
	"sort"

	"github.com/callscope/callscope/pkg/callgraph"
)

// overlapThreshold is the Jaccard similarity above which two functions'
// dependent sets count as the same blast radius.
const overlapThreshold = 0.7

// Item is a changed function with its score.
type Item struct {
	ID    callgraph.FunctionID `json:"id"`
	Name  string               `json:"name"`
	File  string               `json:"file"`
	Line  int                  `json:"line"`
	Score Score                `json:"impact"`
	Level Level                `json:"level"`
}

// Rank scores every changed function and orders them by score, highest
// first. Equal scores keep the order of changed.All().
func Rank(g *callgraph.CallGraph, changed callgraph.ChangedFunctions) []Item {
	ids := changed.All()
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		s := CalculateImpactScore(g, id)
		item := Item{
			ID:    id,
			Name:  id.Name(),
			File:  id.File(),
			Score: s,
			Level: s.Level(),
		}
		if info, ok := g.Get(id); ok {
			item.Line = info.Definition.StartLine
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score.Score > items[j].Score.Score
	})
	return items
}

// FunctionGroup is a set of changed functions presented together.
type FunctionGroup struct {
	Primary Item                   `json:"primary"`
	Related []Item                 `json:"related"`
	AllIDs  []callgraph.FunctionID `json:"all_ids"`
}

// Group merges changed functions of the same file that call one another
// (directly or transitively) or whose dependent sets overlap by more than
// 70%. It is a single greedy pass over items: each ungrouped item starts a
// group and absorbs the remaining ungrouped items related to it. Groups are
// returned by primary score, highest first.
func Group(items []Item, g *callgraph.CallGraph) []FunctionGroup {
	deps := make([]map[callgraph.FunctionID]bool, len(items))
	for i, it := range items {
		deps[i] = DependentSet(g, it.ID)
	}

	grouped := make([]bool, len(items))
	var groups []FunctionGroup
	for i, it := range items {
		if grouped[i] {
			continue
		}
		grouped[i] = true
		group := FunctionGroup{
			Primary: it,
			Related: []Item{},
			AllIDs:  []callgraph.FunctionID{it.ID},
		}
		for j := i + 1; j < len(items); j++ {
			other := items[j]
			if grouped[j] || other.File != it.File {
				continue
			}
			if deps[i][other.ID] || deps[j][it.ID] || jaccard(deps[i], deps[j]) > overlapThreshold {
				grouped[j] = true
				group.Related = append(group.Related, other)
				group.AllIDs = append(group.AllIDs, other.ID)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Primary.Score.Score > groups[b].Primary.Score.Score
	})
	return groups
}

// jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func jaccard(a, b map[callgraph.FunctionID]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for id := range a {
		if b[id] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
