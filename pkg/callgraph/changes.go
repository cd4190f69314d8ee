package callgraph

import (
	"encoding/json"
	"sort"
)

// LineSet is a set of 1-based line numbers.
type LineSet map[int]struct{}

// NewLineSet builds a set from the given lines.
func NewLineSet(lines ...int) LineSet {
	s := make(LineSet, len(lines))
	for _, l := range lines {
		s[l] = struct{}{}
	}
	return s
}

// Sorted returns the lines in ascending order.
func (s LineSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s LineSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of line numbers.
func (s *LineSet) UnmarshalJSON(data []byte) error {
	var lines []int
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*s = NewLineSet(lines...)
	return nil
}

// ChangedLineSet maps a file path to the lines a diff touched in it.
type ChangedLineSet map[string]LineSet

// Add records line as changed in file.
func (c ChangedLineSet) Add(file string, line int) {
	s, ok := c[file]
	if !ok {
		s = make(LineSet)
		c[file] = s
	}
	s[line] = struct{}{}
}

// Files returns the changed files sorted by path.
func (c ChangedLineSet) Files() []string {
	return sortedKeys(c)
}

// ChangedFunctions maps a file path to the functions in it whose definition
// intersects the diff, in graph order.
type ChangedFunctions map[string][]FunctionID

// Files returns the files with at least one changed function, sorted by path.
func (c ChangedFunctions) Files() []string {
	return sortedKeys(c)
}

// All flattens the map: files sorted by path, functions in graph order.
func (c ChangedFunctions) All() []FunctionID {
	var out []FunctionID
	for _, f := range c.Files() {
		out = append(out, c[f]...)
	}
	return out
}

// Count returns the total number of changed functions.
func (c ChangedFunctions) Count() int {
	n := 0
	for _, ids := range c {
		n += len(ids)
	}
	return n
}

// MapChanges returns the functions whose definition span contains at least
// one changed line of their file. Files without changed lines are skipped.
func MapChanges(g *CallGraph, changed ChangedLineSet) ChangedFunctions {
	out := make(ChangedFunctions)
	for _, id := range g.IDs() {
		file := id.File()
		lines, ok := changed[file]
		if !ok {
			continue
		}
		info, _ := g.Get(id)
		for line := range lines {
			if info.Definition.Contains(line) {
				out[file] = append(out[file], id)
				break
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
