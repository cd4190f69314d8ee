// Package surface defines output rendering for callscope results.
// Implementations handle different output targets: terminal, JSON, Markdown
// (pull request comments and check runs) and a standalone HTML page.
package surface

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/impact"
)

// ErrUnknownFormat is returned by Lookup for a name with no renderer.
var ErrUnknownFormat = errors.New("unknown output format")

// Options control what renderers include.
type Options struct {
	// MaxDepth limits trees and entry point searches; impact.Unbounded for none.
	MaxDepth int
	// Top limits the number of groups shown; 0 shows all.
	Top   int
	Title string
}

// DefaultOptions returns unbounded options.
func DefaultOptions() Options {
	return Options{MaxDepth: impact.Unbounded, Title: "callscope impact report"}
}

// Renderer produces formatted output from an analysis result.
type Renderer interface {
	// Render writes the formatted result to the writer.
	Render(w io.Writer, result *analysis.Result, opts Options) error
}

// Registry maps format names to renderers. It is built once at start-up
// and passed to whatever needs format lookup.
type Registry struct {
	renderers map[string]Renderer
}

// NewRegistry builds a registry from an explicit table.
func NewRegistry(table map[string]Renderer) *Registry {
	r := &Registry{renderers: make(map[string]Renderer, len(table))}
	for name, renderer := range table {
		r.renderers[name] = renderer
	}
	return r
}

// DefaultRegistry returns the built-in formats.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Renderer{
		"text":     &TextRenderer{},
		"json":     &JSONRenderer{},
		"markdown": &MarkdownRenderer{},
		"html":     &HTMLRenderer{},
	})
}

// Names returns the registered format names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the renderer registered under name.
func Lookup(reg *Registry, name string) (Renderer, error) {
	if reg != nil {
		if r, ok := reg.renderers[name]; ok {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownFormat, name)
}

// CheckRunData holds the data needed to create a GitHub Check Run.
type CheckRunData struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`    // Markdown body
	Conclusion string `json:"conclusion"` // success, neutral, failure
}
