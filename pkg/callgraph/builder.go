package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/callscope/callscope/pkg/tsmodel"
)

// BuildOptions configure Build.
type BuildOptions struct {
	// Wrappers is the higher-order wrapper allow-list; nil selects DefaultWrappers.
	Wrappers []string
	Logger   *slog.Logger
}

// BuildStats summarizes one build.
type BuildStats struct {
	Files      int
	Functions  int
	CallSites  int
	Unresolved int
	Elapsed    time.Duration
}

type builder struct {
	prog   *tsmodel.Program
	ident  *Identifier
	graph  *CallGraph
	logger *slog.Logger
	stats  BuildStats
}

// frame is one pending node of the pre-order walk with the function that
// encloses it.
type frame struct {
	node      *sitter.Node
	enclosing FunctionID
}

// Build walks every source file of prog once and returns the caller graph.
// The graph must be treated as read-only afterwards.
func Build(ctx context.Context, prog *tsmodel.Program, opts BuildOptions) (*CallGraph, BuildStats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &builder{
		prog:   prog,
		ident:  NewIdentifier(opts.Wrappers),
		graph:  New(),
		logger: logger,
	}

	start := time.Now()
	for _, f := range prog.Files() {
		if err := ctx.Err(); err != nil {
			return nil, BuildStats{}, fmt.Errorf("building call graph: %w", err)
		}
		if !tsmodel.IsSourcePath(f.Path) {
			continue
		}
		b.walk(f)
		b.stats.Files++
	}

	b.stats.Functions = b.graph.Len()
	b.stats.CallSites = b.graph.EdgeCount()
	b.stats.Elapsed = time.Since(start)
	logger.Debug("call graph built",
		slog.Int("files", b.stats.Files),
		slog.Int("functions", b.stats.Functions),
		slog.Int("call_sites", b.stats.CallSites),
		slog.Int("unresolved", b.stats.Unresolved),
		slog.Duration("elapsed", b.stats.Elapsed),
	)
	return b.graph, b.stats, nil
}

func (b *builder) walk(f *tsmodel.SourceFile) {
	stack := []frame{{node: f.Root()}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, enclosing := fr.node, fr.enclosing

		switch shape := b.ident.Classify(node, f); shape {
		case ShapeFunctionDeclaration, ShapeFunctionBinding, ShapeWrappedBinding, ShapeMethod:
			id, ok := b.ident.Identify(node, f)
			if !ok {
				break
			}
			def := Definition{StartLine: tsmodel.StartLine(node), EndLine: tsmodel.EndLine(node)}
			if b.graph.Define(id, def) {
				b.logger.Debug("function redefined", slog.String("id", string(id)), slog.Int("line", def.StartLine))
			}
			enclosing = id
			if shape == ShapeWrappedBinding {
				b.recordWrapped(f, node, id)
			}
		case ShapeCall:
			b.record(f, node.ChildByFieldName("function"), enclosing, tsmodel.StartLine(node))
		case ShapeElement:
			b.record(f, node.ChildByFieldName("name"), enclosing, tsmodel.StartLine(node))
		case ShapeOther:
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, frame{node: child, enclosing: enclosing})
			}
		}
	}
}

// record adds a call site for the function ref resolves to.
func (b *builder) record(f *tsmodel.SourceFile, ref *sitter.Node, enclosing FunctionID, line int) {
	if ref == nil || enclosing == "" {
		return
	}
	target, ok := b.target(f, ref)
	if !ok {
		b.stats.Unresolved++
		return
	}
	b.graph.AddCaller(target, CallSite{CallerID: enclosing, Line: line})
}

// recordWrapped attributes the wrapped implementation of a wrapper binding
// as called by the binding, so reaching the binding reaches the implementation.
func (b *builder) recordWrapped(f *tsmodel.SourceFile, declarator *sitter.Node, outer FunctionID) {
	ref := b.ident.WrappedReference(declarator, f)
	if ref == nil {
		return
	}
	inner, ok := b.target(f, ref)
	if !ok || inner == outer {
		return
	}
	b.graph.AddCaller(inner, CallSite{CallerID: outer, Line: tsmodel.StartLine(declarator)})
}

func (b *builder) target(f *tsmodel.SourceFile, ref *sitter.Node) (FunctionID, bool) {
	decl := b.prog.Resolve(f, ref)
	if decl == nil {
		return "", false
	}
	return b.ident.Identify(decl.Node, decl.File)
}
