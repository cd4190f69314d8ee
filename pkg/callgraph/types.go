// Package callgraph defines the caller graph of a TypeScript program and the
// operations that build it and intersect it with a diff.
// These types are the shared vocabulary of the analysis, the renderers and
// the server.
package callgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FunctionID identifies a function as "file:name". The file part is relative
// to the analysis working directory.
type FunctionID string

// NewFunctionID joins a relative file path and a function name.
func NewFunctionID(file, name string) FunctionID {
	return FunctionID(file + ":" + name)
}

// File returns the file component. Names never contain ':' so the split
// happens at the last separator.
func (id FunctionID) File() string {
	i := strings.LastIndex(string(id), ":")
	if i < 0 {
		return ""
	}
	return string(id[:i])
}

// Name returns the function name component.
func (id FunctionID) Name() string {
	i := strings.LastIndex(string(id), ":")
	if i < 0 {
		return string(id)
	}
	return string(id[i+1:])
}

// CallSite is one textual location where CallerID invokes or renders a target.
type CallSite struct {
	CallerID FunctionID `json:"callerId"`
	Line     int        `json:"line"`
}

// Definition is the 1-based inclusive line span of a function.
type Definition struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

// Contains reports whether line falls inside the span.
func (d Definition) Contains(line int) bool {
	return line >= d.StartLine && line <= d.EndLine
}

// IsZero reports whether the definition is still the placeholder recorded
// for a function referenced before its declaration was visited.
func (d Definition) IsZero() bool {
	return d.StartLine == 0 && d.EndLine == 0
}

// FunctionInfo is the graph record for one function.
type FunctionInfo struct {
	Callers    []CallSite `json:"callers"`
	Definition Definition `json:"definition"`
}

// CallGraph maps every known function to its callers. Entries keep their
// insertion order, which is the tie-break for equal-score outputs.
type CallGraph struct {
	funcs map[FunctionID]*FunctionInfo
	order []FunctionID
}

// New returns an empty graph.
func New() *CallGraph {
	return &CallGraph{funcs: make(map[FunctionID]*FunctionInfo)}
}

// Len returns the number of functions in the graph.
func (g *CallGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// IDs returns every function id in insertion order.
func (g *CallGraph) IDs() []FunctionID {
	if g == nil {
		return nil
	}
	out := make([]FunctionID, len(g.order))
	copy(out, g.order)
	return out
}

// Get returns the record for id.
func (g *CallGraph) Get(id FunctionID) (*FunctionInfo, bool) {
	if g == nil {
		return nil, false
	}
	info, ok := g.funcs[id]
	return info, ok
}

// Callers returns the call sites recorded against id, or nil when id is unknown.
func (g *CallGraph) Callers(id FunctionID) []CallSite {
	info, ok := g.Get(id)
	if !ok {
		return nil
	}
	return info.Callers
}

// EdgeCount returns the total number of call sites.
func (g *CallGraph) EdgeCount() int {
	n := 0
	for _, id := range g.order {
		n += len(g.funcs[id].Callers)
	}
	return n
}

func (g *CallGraph) ensure(id FunctionID) *FunctionInfo {
	if info, ok := g.funcs[id]; ok {
		return info
	}
	info := &FunctionInfo{Callers: []CallSite{}}
	g.funcs[id] = info
	g.order = append(g.order, id)
	return info
}

// Define records the definition span of id, creating the entry if needed.
// It returns true when an earlier declaration with the same id had already
// set a span; the new span replaces it and existing callers are kept.
func (g *CallGraph) Define(id FunctionID, def Definition) bool {
	info := g.ensure(id)
	redefined := !info.Definition.IsZero()
	info.Definition = def
	return redefined
}

// AddCaller appends site to the callers of target, creating target on demand.
// A site with the same caller and line as an existing entry is dropped and
// AddCaller returns false.
func (g *CallGraph) AddCaller(target FunctionID, site CallSite) bool {
	info := g.ensure(target)
	for _, existing := range info.Callers {
		if existing == site {
			return false
		}
	}
	info.Callers = append(info.Callers, site)
	return true
}

// MarshalJSON encodes the graph as an object keyed by function id, in
// insertion order.
func (g *CallGraph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(id))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(g.funcs[id])
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a graph object, preserving key order.
func (g *CallGraph) UnmarshalJSON(data []byte) error {
	g.funcs = make(map[FunctionID]*FunctionInfo)
	g.order = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading call graph: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("call graph must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading call graph key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("call graph key is %T, want string", tok)
		}
		var info FunctionInfo
		if err := dec.Decode(&info); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		if info.Callers == nil {
			info.Callers = []CallSite{}
		}
		id := FunctionID(key)
		if _, dup := g.funcs[id]; !dup {
			g.order = append(g.order, id)
		}
		g.funcs[id] = &info
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading call graph end: %w", err)
	}
	return nil
}
