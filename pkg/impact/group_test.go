package impact_test

import (
	"reflect"
	"testing"

	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/impact"
)

func items(g *callgraph.CallGraph, ids ...callgraph.FunctionID) []impact.Item {
	out := make([]impact.Item, len(ids))
	for i, id := range ids {
		s := impact.CalculateImpactScore(g, id)
		out[i] = impact.Item{ID: id, Name: id.Name(), File: id.File(), Score: s, Level: s.Level()}
	}
	return out
}

func groupIDs(groups []impact.FunctionGroup) [][]callgraph.FunctionID {
	out := make([][]callgraph.FunctionID, len(groups))
	for i, g := range groups {
		out[i] = g.AllIDs
	}
	return out
}

func TestGroup_CallerRelationSameFile(t *testing.T) {
	g := chainGraph(
		edge{"f.ts:inner", "f.ts:outer", 3},
		edge{"f.ts:outer", "g.ts:main", 9},
	)
	groups := impact.Group(items(g, "f.ts:inner", "f.ts:outer"), g)
	want := [][]callgraph.FunctionID{{"f.ts:inner", "f.ts:outer"}}
	if got := groupIDs(groups); !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}
	if groups[0].Primary.ID != "f.ts:inner" || len(groups[0].Related) != 1 {
		t.Errorf("group = %+v", groups[0])
	}
}

func TestGroup_DifferentFilesNeverMerge(t *testing.T) {
	g := chainGraph(edge{"a.ts:x", "b.ts:y", 1})
	groups := impact.Group(items(g, "a.ts:x", "b.ts:y"), g)
	if len(groups) != 2 {
		t.Errorf("groups = %v, want 2 separate", groupIDs(groups))
	}
}

func TestGroup_JaccardThreshold(t *testing.T) {
	// x and y share 7 of 10 dependents: exactly 0.7 is not enough.
	var edges []edge
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"} {
		edges = append(edges, edge{"f.ts:x", c, 1}, edge{"f.ts:y", c, 1})
	}
	edges = append(edges, edge{"f.ts:x", "only1", 1}, edge{"f.ts:x", "only2", 1}, edge{"f.ts:y", "only3", 1})
	g := chainGraph(edges...)
	if groups := impact.Group(items(g, "f.ts:x", "f.ts:y"), g); len(groups) != 2 {
		t.Errorf("jaccard 0.7 merged: %v", groupIDs(groups))
	}

	// Dropping one exclusive dependent lifts the overlap to 7/9.
	g = chainGraph(edges[:len(edges)-1]...)
	if groups := impact.Group(items(g, "f.ts:x", "f.ts:y"), g); len(groups) != 1 {
		t.Errorf("jaccard 7/9 not merged: %v", groupIDs(groups))
	}
}

func TestGroup_EmptyDependentsStaySeparate(t *testing.T) {
	g := callgraph.New()
	g.Define("f.ts:a", callgraph.Definition{StartLine: 1, EndLine: 2})
	g.Define("f.ts:b", callgraph.Definition{StartLine: 3, EndLine: 4})
	if groups := impact.Group(items(g, "f.ts:a", "f.ts:b"), g); len(groups) != 2 {
		t.Errorf("groups = %v, want 2", groupIDs(groups))
	}
}

func TestGroup_GreedySinglePass(t *testing.T) {
	// q calls p; q and r share all dependents; p and r overlap only 50%.
	var edges []edge
	edges = append(edges, edge{"f.ts:p", "f.ts:q", 1})
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		edges = append(edges, edge{"f.ts:q", c, 1}, edge{"f.ts:r", c, 1})
	}
	for _, e := range []string{"e1", "e2", "e3"} {
		edges = append(edges, edge{"f.ts:p", e, 1})
	}
	g := chainGraph(edges...)

	groups := impact.Group(items(g, "f.ts:p", "f.ts:q", "f.ts:r"), g)
	got := groupIDs(groups)
	want := [][]callgraph.FunctionID{{"f.ts:p", "f.ts:q"}, {"f.ts:r"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}
}

func TestGroup_SortedByPrimaryScore(t *testing.T) {
	g := chainGraph(
		edge{"a.ts:low", "a.ts:caller", 1},
		edge{"b.ts:high", "x", 1},
		edge{"x", "y", 1},
		edge{"y", "z", 1},
	)
	groups := impact.Group(items(g, "a.ts:low", "b.ts:high"), g)
	if groups[0].Primary.ID != "b.ts:high" {
		t.Errorf("first group = %s, want b.ts:high", groups[0].Primary.ID)
	}
}

func TestRank_OrdersByScoreThenInput(t *testing.T) {
	g := chainGraph(
		edge{"a.ts:one", "a.ts:c1", 1},
		edge{"b.ts:two", "x", 1},
		edge{"x", "y", 1},
	)
	g.Define("a.ts:zero", callgraph.Definition{StartLine: 40, EndLine: 41})
	changed := callgraph.ChangedFunctions{
		"a.ts": {"a.ts:zero", "a.ts:one"},
		"b.ts": {"b.ts:two"},
	}
	ranked := impact.Rank(g, changed)
	var got []callgraph.FunctionID
	for _, it := range ranked {
		got = append(got, it.ID)
	}
	want := []callgraph.FunctionID{"b.ts:two", "a.ts:one", "a.ts:zero"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rank = %v, want %v", got, want)
	}
	if ranked[2].Line != 40 || ranked[2].Level != impact.LevelNone {
		t.Errorf("zero item = %+v", ranked[2])
	}
}
