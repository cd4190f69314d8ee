package graphquery

import (
	"reflect"
	"testing"

	"github.com/callscope/callscope/pkg/callgraph"
)

// testGraph: main -> App -> render -> format -> pad, spec -> format.
func testGraph() *callgraph.CallGraph {
	g := callgraph.New()
	def := func(id callgraph.FunctionID, start, end int) {
		g.Define(id, callgraph.Definition{StartLine: start, EndLine: end})
	}
	def("main.ts:main", 1, 4)
	def("app.tsx:App", 1, 10)
	def("ui.ts:render", 5, 12)
	def("util.ts:format", 15, 25)
	def("util.ts:pad", 30, 32)
	def("test.ts:spec", 1, 9)

	call := func(callee, caller callgraph.FunctionID, line int) {
		g.AddCaller(callee, callgraph.CallSite{CallerID: caller, Line: line})
	}
	call("app.tsx:App", "main.ts:main", 2)
	call("ui.ts:render", "app.tsx:App", 3)
	call("util.ts:format", "ui.ts:render", 8)
	call("util.ts:format", "test.ts:spec", 5)
	call("util.ts:pad", "util.ts:format", 20)
	call("util.ts:pad", "util.ts:format", 22)
	return g
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"", Both, true},
		{"both", Both, true},
		{"callers", Callers, true},
		{"rdeps", Callers, true},
		{"callees", Callees, true},
		{"deps", Callees, true},
		{"sideways", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseDirection(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseDirection(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIndex_MergesRepeatedCalls(t *testing.T) {
	ix := newIndex(testGraph())
	if len(ix.edges) != 5 {
		t.Fatalf("expected 5 edges, got %d", len(ix.edges))
	}
	for _, e := range ix.edges {
		if e.From == "util.ts:format" && e.To == "util.ts:pad" {
			if !reflect.DeepEqual(e.Lines, []int{20, 22}) {
				t.Errorf("format -> pad lines = %v, want [20 22]", e.Lines)
			}
		}
	}
}

func TestExtractSubgraph(t *testing.T) {
	g := testGraph()

	t.Run("single root depth 1", func(t *testing.T) {
		result := ExtractSubgraph(g, []string{"ui.ts:render"}, 1)
		for _, want := range []callgraph.FunctionID{"ui.ts:render", "app.tsx:App", "util.ts:format"} {
			if _, ok := result.Nodes[want]; !ok {
				t.Errorf("expected %s in result", want)
			}
		}
		if _, ok := result.Nodes["main.ts:main"]; ok {
			t.Error("did not expect main.ts:main at depth 1")
		}
		if len(result.Edges) != 2 {
			t.Errorf("expected 2 edges, got %v", result.Edges)
		}
	})

	t.Run("file matching", func(t *testing.T) {
		result := ExtractSubgraph(g, []string{"util.ts"}, 0)
		if len(result.Nodes) != 2 {
			t.Errorf("expected 2 nodes in util.ts, got %d", len(result.Nodes))
		}
	})
}

func TestCapGraph(t *testing.T) {
	g := testGraph()

	t.Run("under limit", func(t *testing.T) {
		result := CapGraph(g, 100)
		if len(result.Nodes) != g.Len() || result.Truncated {
			t.Errorf("expected all %d nodes, got %d", g.Len(), len(result.Nodes))
		}
	})

	t.Run("capped", func(t *testing.T) {
		result := CapGraph(g, 3)
		if len(result.Nodes) != 3 || !result.Truncated {
			t.Errorf("expected 3 nodes truncated, got %d", len(result.Nodes))
		}
		if _, ok := result.Nodes["util.ts:format"]; !ok {
			t.Error("expected the highest-degree function util.ts:format to be kept")
		}
		for _, e := range result.Edges {
			if _, ok := result.Nodes[e.From]; !ok {
				t.Errorf("edge from %s but node not in result", e.From)
			}
			if _, ok := result.Nodes[e.To]; !ok {
				t.Errorf("edge to %s but node not in result", e.To)
			}
		}
	})
}

func TestEgoGraph(t *testing.T) {
	g := testGraph()

	t.Run("callers only", func(t *testing.T) {
		result := EgoGraph(g, "util.ts:format", 1, Callers, 0)
		want := map[callgraph.FunctionID]bool{"util.ts:format": true, "ui.ts:render": true, "test.ts:spec": true}
		if len(result.Nodes) != len(want) {
			t.Errorf("expected %d nodes, got %d", len(want), len(result.Nodes))
		}
		for id := range want {
			if _, ok := result.Nodes[id]; !ok {
				t.Errorf("expected %s in ego graph", id)
			}
		}
	})

	t.Run("callees only", func(t *testing.T) {
		result := EgoGraph(g, "util.ts:format", 2, Callees, 0)
		if len(result.Nodes) != 2 {
			t.Errorf("expected format and pad, got %d nodes", len(result.Nodes))
		}
	})

	t.Run("name matching", func(t *testing.T) {
		result := EgoGraph(g, "render", 0, Both, 0)
		if _, ok := result.Nodes["ui.ts:render"]; !ok || len(result.Nodes) != 1 {
			t.Errorf("expected render matched by name, got %v", result.Nodes)
		}
	})

	t.Run("max nodes", func(t *testing.T) {
		result := EgoGraph(g, "util.ts:format", 10, Both, 2)
		if !result.Truncated {
			t.Error("expected truncated ego graph")
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		result := EgoGraph(g, "nope.ts:missing", 2, Both, 0)
		if len(result.Nodes) != 0 || result.Edges == nil {
			t.Errorf("expected empty non-nil result, got %+v", result)
		}
	})

	t.Run("node details", func(t *testing.T) {
		result := EgoGraph(g, "util.ts:format", 0, Both, 0)
		n := result.Nodes["util.ts:format"]
		if n.StartLine != 15 || n.EndLine != 25 || n.CallerCount != 2 || n.Name != "format" {
			t.Errorf("unexpected node %+v", n)
		}
	})
}

func TestFindPaths(t *testing.T) {
	g := testGraph()

	t.Run("single chain", func(t *testing.T) {
		result := FindPaths(g, "main.ts:main", "util.ts:pad", 10)
		want := [][]callgraph.FunctionID{{"main.ts:main", "app.tsx:App", "ui.ts:render", "util.ts:format", "util.ts:pad"}}
		if !reflect.DeepEqual(result.Paths, want) {
			t.Errorf("paths = %v, want %v", result.Paths, want)
		}
		if result.PathLength != 4 {
			t.Errorf("path length = %d, want 4", result.PathLength)
		}
		if len(result.Edges) != 4 {
			t.Errorf("expected 4 path edges, got %d", len(result.Edges))
		}
	})

	t.Run("callee to caller has no path", func(t *testing.T) {
		result := FindPaths(g, "util.ts:pad", "main.ts:main", 10)
		if len(result.Paths) != 0 {
			t.Errorf("expected no paths, got %v", result.Paths)
		}
	})

	t.Run("multiple sources", func(t *testing.T) {
		g := testGraph()
		g.Define("test.ts:other", callgraph.Definition{StartLine: 11, EndLine: 20})
		g.AddCaller("util.ts:format", callgraph.CallSite{CallerID: "test.ts:other", Line: 12})

		result := FindPaths(g, "test.ts", "format", 10)
		if len(result.Paths) != 2 {
			t.Errorf("expected 2 paths from test.ts functions, got %v", result.Paths)
		}
	})

	t.Run("max paths", func(t *testing.T) {
		g := testGraph()
		g.Define("test.ts:other", callgraph.Definition{StartLine: 11, EndLine: 20})
		g.AddCaller("util.ts:format", callgraph.CallSite{CallerID: "test.ts:other", Line: 12})

		result := FindPaths(g, "test.ts", "format", 1)
		if len(result.Paths) != 1 {
			t.Errorf("expected 1 path, got %d", len(result.Paths))
		}
	})
}

func TestAggregateFiles(t *testing.T) {
	g := testGraph()

	t.Run("basic aggregation", func(t *testing.T) {
		result := AggregateFiles(g, 0, 0)
		if len(result.Nodes) != 5 {
			t.Errorf("expected 5 files, got %d", len(result.Nodes))
		}
		if result.Nodes["util.ts"].FunctionCount != 2 {
			t.Errorf("expected util.ts to hold 2 functions, got %d", result.Nodes["util.ts"].FunctionCount)
		}
		for _, e := range result.Edges {
			if e.From == e.To {
				t.Errorf("self edge %s", e.From)
			}
		}
		if len(result.Edges) != 4 {
			t.Errorf("expected 4 cross-file edges, got %v", result.Edges)
		}
	})

	t.Run("min edge weight", func(t *testing.T) {
		result := AggregateFiles(g, 2, 0)
		if len(result.Edges) != 0 {
			t.Errorf("expected no edges with weight >= 2, got %v", result.Edges)
		}
	})

	t.Run("max files", func(t *testing.T) {
		result := AggregateFiles(g, 0, 2)
		if len(result.Nodes) != 2 || !result.Truncated {
			t.Errorf("expected 2 files truncated, got %d", len(result.Nodes))
		}
	})
}
