// Package tsmodel provides a whole-program view of a TypeScript project:
// the project's source files parsed with tree-sitter, and a resolver that
// maps a reference to the declaration it ultimately names.
package tsmodel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"golang.org/x/sync/errgroup"
)

// Options control how a program is loaded.
type Options struct {
	// WorkDir is the directory file ids are made relative to.
	// Defaults to the process working directory.
	WorkDir string
	// Concurrency bounds parallel parsing. Defaults to GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
}

// SourceFile is one parsed source file.
type SourceFile struct {
	Path    string // absolute path
	RelPath string // path relative to Options.WorkDir, OS separators
	Content []byte
	Tree    *sitter.Tree

	scope *fileScope
}

// Root returns the root syntax node.
func (f *SourceFile) Root() *sitter.Node {
	return f.Tree.RootNode()
}

// Text returns the source text covered by n.
func (f *SourceFile) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(f.Content[n.StartByte():n.EndByte()])
}

// IsTSX reports whether the file was parsed with the TSX grammar.
func (f *SourceFile) IsTSX() bool {
	return strings.HasSuffix(f.Path, ".tsx")
}

// StartLine returns the 1-based line n starts on.
func StartLine(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// EndLine returns the 1-based line n ends on.
func EndLine(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}

// Program is the loaded project.
type Program struct {
	project *Project
	files   []*SourceFile
	byPath  map[string]*SourceFile
	logger  *slog.Logger
}

// Load enumerates and parses every source file of project. Any failure
// (unreadable file, parser error, cancellation) aborts the load.
func Load(ctx context.Context, project *Project, opts Options) (*Program, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	paths, err := project.SourcePaths()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	files := make([]*SourceFile, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			f, err := parseFile(gctx, path, workDir)
			if err != nil {
				return err
			}
			f.scope = buildScope(f)
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range files {
			if f != nil {
				f.Tree.Close()
			}
		}
		return nil, err
	}

	prog := &Program{
		project: project,
		files:   files,
		byPath:  make(map[string]*SourceFile, len(files)),
		logger:  logger,
	}
	for _, f := range files {
		prog.byPath[f.Path] = f
	}

	logger.Debug("program loaded",
		slog.String("project", project.ConfigPath),
		slog.Int("files", len(files)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return prog, nil
}

func parseFile(ctx context.Context, path, workDir string) (*SourceFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	parser := sitter.NewParser()
	if strings.HasSuffix(path, ".tsx") {
		parser.SetLanguage(tsx.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	rel, err := filepath.Rel(workDir, path)
	if err != nil {
		rel = path
	}

	return &SourceFile{
		Path:    path,
		RelPath: rel,
		Content: content,
		Tree:    tree,
	}, nil
}

// Project returns the configuration the program was loaded from.
func (p *Program) Project() *Project {
	return p.project
}

// Files returns the parsed source files sorted by path.
func (p *Program) Files() []*SourceFile {
	return p.files
}

// File returns the source file at the absolute path, or nil.
func (p *Program) File(path string) *SourceFile {
	return p.byPath[filepath.Clean(path)]
}

// Close releases the syntax trees.
func (p *Program) Close() {
	for _, f := range p.files {
		f.Tree.Close()
	}
}
