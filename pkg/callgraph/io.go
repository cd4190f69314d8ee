package callgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveGraph writes a call graph to disk as JSON.
func SaveGraph(path string, g *CallGraph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for call graph: %w", err)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling call graph: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing call graph: %w", err)
	}

	return nil
}

// LoadGraph reads a call graph from disk.
func LoadGraph(path string) (*CallGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading call graph: %w", err)
	}

	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("unmarshaling call graph: %w", err)
	}

	return g, nil
}
