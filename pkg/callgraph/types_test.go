package callgraph

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestFunctionID_Split(t *testing.T) {
	tests := []struct {
		id         FunctionID
		file, name string
	}{
		{"a.ts:foo", "a.ts", "foo"},
		{"src/ui/App.tsx:App", "src/ui/App.tsx", "App"},
		{`C:\repo\a.ts:foo`, `C:\repo\a.ts`, "foo"},
		{"noname", "", "noname"},
	}
	for _, tt := range tests {
		if got := tt.id.File(); got != tt.file {
			t.Errorf("%s.File() = %q, want %q", tt.id, got, tt.file)
		}
		if got := tt.id.Name(); got != tt.name {
			t.Errorf("%s.Name() = %q, want %q", tt.id, got, tt.name)
		}
	}
	if id := NewFunctionID("a.ts", "foo"); id != "a.ts:foo" {
		t.Errorf("NewFunctionID = %q", id)
	}
}

func TestCallGraph_LazyCreationAndDedup(t *testing.T) {
	g := New()
	if !g.AddCaller("a.ts:target", CallSite{CallerID: "b.ts:c", Line: 4}) {
		t.Fatal("first AddCaller returned false")
	}
	if g.AddCaller("a.ts:target", CallSite{CallerID: "b.ts:c", Line: 4}) {
		t.Error("duplicate call site was added")
	}
	g.AddCaller("a.ts:target", CallSite{CallerID: "b.ts:c", Line: 5})

	info, ok := g.Get("a.ts:target")
	if !ok {
		t.Fatal("target not created on demand")
	}
	if !info.Definition.IsZero() {
		t.Errorf("placeholder definition = %+v, want zero", info.Definition)
	}
	if len(info.Callers) != 2 {
		t.Errorf("callers = %v, want 2", info.Callers)
	}

	if g.Define("a.ts:target", Definition{StartLine: 1, EndLine: 9}) {
		t.Error("first Define reported a redefinition")
	}
	if !g.Define("a.ts:target", Definition{StartLine: 20, EndLine: 30}) {
		t.Error("second Define did not report a redefinition")
	}
	if len(g.Callers("a.ts:target")) != 2 {
		t.Error("redefinition dropped callers")
	}
	if g.Len() != 1 || g.EdgeCount() != 2 {
		t.Errorf("len/edges = %d/%d, want 1/2", g.Len(), g.EdgeCount())
	}
}

func TestCallGraph_JSONPreservesOrder(t *testing.T) {
	g := New()
	g.Define("z.ts:last", Definition{StartLine: 1, EndLine: 2})
	g.Define("a.ts:first", Definition{StartLine: 3, EndLine: 4})
	g.AddCaller("z.ts:last", CallSite{CallerID: "a.ts:first", Line: 3})

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"z.ts:last":{"callers":[{"callerId":"a.ts:first","line":3}],"definition":{"startLine":1,"endLine":2}},` +
		`"a.ts:first":{"callers":[],"definition":{"startLine":3,"endLine":4}}}`
	if string(data) != want {
		t.Errorf("json = %s\nwant %s", data, want)
	}

	decoded := New()
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decoded.IDs(), g.IDs()) {
		t.Errorf("decoded order = %v, want %v", decoded.IDs(), g.IDs())
	}
}

func TestCallGraph_UnmarshalRejectsArray(t *testing.T) {
	g := New()
	err := json.Unmarshal([]byte(`[1,2]`), g)
	if err == nil || !strings.Contains(err.Error(), "object") {
		t.Errorf("err = %v, want object error", err)
	}
}

func TestMapChanges_Inclusive(t *testing.T) {
	g := New()
	g.Define("a.ts:f", Definition{StartLine: 5, EndLine: 10})

	tests := []struct {
		lines []int
		hit   bool
	}{
		{[]int{5}, true},
		{[]int{10}, true},
		{[]int{7}, true},
		{[]int{4}, false},
		{[]int{11}, false},
		{[]int{4, 11}, false},
		{[]int{1, 8, 20}, true},
	}
	for _, tt := range tests {
		got := MapChanges(g, ChangedLineSet{"a.ts": NewLineSet(tt.lines...)})
		if hit := len(got["a.ts"]) == 1; hit != tt.hit {
			t.Errorf("lines %v: hit = %v, want %v", tt.lines, hit, tt.hit)
		}
	}
}

func TestMapChanges_FilesAndOrder(t *testing.T) {
	g := New()
	g.Define("b.ts:two", Definition{StartLine: 20, EndLine: 30})
	g.Define("b.ts:one", Definition{StartLine: 1, EndLine: 10})
	g.Define("c.ts:untouched", Definition{StartLine: 1, EndLine: 100})
	g.AddCaller("b.ts:placeholder", CallSite{CallerID: "b.ts:one", Line: 2})

	changed := ChangedLineSet{}
	changed.Add("b.ts", 2)
	changed.Add("b.ts", 25)
	changed.Add("other.ts", 1)

	got := MapChanges(g, changed)
	want := ChangedFunctions{"b.ts": {"b.ts:two", "b.ts:one"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
	if got.Count() != 2 || !reflect.DeepEqual(got.All(), []FunctionID{"b.ts:two", "b.ts:one"}) {
		t.Errorf("All() = %v", got.All())
	}
}

func TestLineSet_JSON(t *testing.T) {
	c := ChangedLineSet{"a.ts": NewLineSet(9, 2, 5)}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a.ts":[2,5,9]}` {
		t.Errorf("json = %s", data)
	}
	var back ChangedLineSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, c) {
		t.Errorf("decoded = %v, want %v", back, c)
	}
}

func TestSaveLoadGraph(t *testing.T) {
	g := New()
	g.Define("a.ts:f", Definition{StartLine: 1, EndLine: 2})
	g.AddCaller("a.ts:f", CallSite{CallerID: "b.ts:g", Line: 7})

	path := filepath.Join(t.TempDir(), "nested", "graph.json")
	if err := SaveGraph(path, g); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadGraph(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Callers("a.ts:f"), g.Callers("a.ts:f")) {
		t.Errorf("callers = %v", loaded.Callers("a.ts:f"))
	}
}
