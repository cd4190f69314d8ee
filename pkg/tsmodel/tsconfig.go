package tsmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tailscale/hujson"
)

// ErrInvalidProject is returned when the project configuration cannot be
// loaded. The wrapped error carries the underlying diagnostic.
var ErrInvalidProject = errors.New("invalid project configuration")

// maxExtendsDepth bounds tsconfig "extends" chains.
const maxExtendsDepth = 16

// Project is the subset of a tsconfig.json the source model needs.
type Project struct {
	ConfigPath string              // absolute path of the tsconfig file
	RootDir    string              // directory containing ConfigPath
	BaseURL    string              // absolute compilerOptions.baseUrl, or ""
	Paths      map[string][]string // compilerOptions.paths
	Files      []string            // explicit file list, absolute
	Include    []Glob              // include patterns
	Exclude    []Glob              // exclude patterns
}

// Glob is a tsconfig include or exclude entry anchored at the directory of
// the config file that declared it. Base is the absolute, wildcard-free
// prefix of the entry and Pattern the remaining slash-separated glob, empty
// when the entry names a file or directory literally.
type Glob struct {
	Base    string
	Pattern string
}

func (g Glob) String() string {
	if g.Pattern == "" {
		return filepath.ToSlash(g.Base)
	}
	return filepath.ToSlash(g.Base) + "/" + g.Pattern
}

// newGlob anchors a raw tsconfig entry at dir.
func newGlob(dir, entry string) Glob {
	joined := filepath.ToSlash(filepath.Clean(filepath.Join(dir, filepath.FromSlash(entry))))
	segs := strings.Split(joined, "/")
	for i, seg := range segs {
		if strings.ContainsAny(seg, "*?[{") {
			return Glob{
				Base:    filepath.FromSlash(strings.Join(segs[:i], "/")),
				Pattern: strings.Join(segs[i:], "/"),
			}
		}
	}
	return Glob{Base: filepath.FromSlash(joined)}
}

func anchorGlobs(dir string, entries []string) []Glob {
	out := make([]Glob, 0, len(entries))
	for _, e := range entries {
		out = append(out, newGlob(dir, e))
	}
	return out
}

type tsconfigFile struct {
	Extends         string   `json:"extends"`
	Files           []string `json:"files"`
	Include         []string `json:"include"`
	Exclude         []string `json:"exclude"`
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
		OutDir  string              `json:"outDir"`
	} `json:"compilerOptions"`
}

// LoadProject reads a tsconfig.json (comments and trailing commas allowed)
// and follows its "extends" chain.
func LoadProject(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrInvalidProject, path, err)
	}

	cfg, err := readTSConfig(abs, 0)
	if err != nil {
		return nil, err
	}

	root := filepath.Dir(abs)
	p := &Project{
		ConfigPath: abs,
		RootDir:    root,
		BaseURL:    cfg.baseURL,
		Paths:      cfg.paths,
		Files:      cfg.files,
		Include:    cfg.include,
		Exclude:    cfg.exclude,
	}
	if p.Files == nil && p.Include == nil {
		p.Include = []Glob{newGlob(root, "**/*")}
	}
	if p.Exclude == nil {
		p.Exclude = anchorGlobs(root, []string{"node_modules", "bower_components", "jspm_packages"})
		if cfg.outDir != "" {
			p.Exclude = append(p.Exclude, Glob{Base: cfg.outDir})
		}
	}
	return p, nil
}

// resolvedConfig holds tsconfig values with paths already made absolute
// against the directory of the file that declared them.
type resolvedConfig struct {
	files            []string
	include, exclude []Glob
	baseURL          string
	paths            map[string][]string
	outDir           string
}

func readTSConfig(path string, depth int) (*resolvedConfig, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("%w: extends chain deeper than %d at %s", ErrInvalidProject, maxExtendsDepth, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidProject, path, err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidProject, path, err)
	}
	var raw tsconfigFile
	if err := json.Unmarshal(std, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidProject, path, err)
	}

	out := &resolvedConfig{}
	if raw.Extends != "" {
		parentPath := raw.Extends
		switch {
		case filepath.IsAbs(parentPath):
		case strings.HasPrefix(parentPath, "."):
			parentPath = filepath.Join(filepath.Dir(path), parentPath)
		default:
			parentPath = filepath.Join(filepath.Dir(path), "node_modules", parentPath)
		}
		if filepath.Ext(parentPath) != ".json" {
			parentPath += ".json"
		}
		parent, err := readTSConfig(parentPath, depth+1)
		if err != nil {
			return nil, err
		}
		*out = *parent
	}

	dir := filepath.Dir(path)
	if raw.Files != nil {
		out.files = make([]string, 0, len(raw.Files))
		for _, f := range raw.Files {
			out.files = append(out.files, filepath.Join(dir, filepath.FromSlash(f)))
		}
	}
	if raw.Include != nil {
		out.include = anchorGlobs(dir, raw.Include)
	}
	if raw.Exclude != nil {
		out.exclude = anchorGlobs(dir, raw.Exclude)
	}
	if raw.CompilerOptions.BaseURL != "" {
		out.baseURL = filepath.Join(dir, raw.CompilerOptions.BaseURL)
	}
	if raw.CompilerOptions.Paths != nil {
		out.paths = raw.CompilerOptions.Paths
		if out.baseURL == "" {
			out.baseURL = dir
		}
	}
	if raw.CompilerOptions.OutDir != "" {
		out.outDir = filepath.Join(dir, raw.CompilerOptions.OutDir)
	}
	return out, nil
}

// SourcePaths enumerates the project's .ts and .tsx files as absolute, sorted
// paths. Declaration files and node_modules are never included. A project
// whose configuration selects no inputs is invalid.
func (p *Project) SourcePaths() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(abs string) {
		if !seen[abs] && IsSourcePath(abs) {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	for _, f := range p.Files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("%w: file %s listed in %s: %v", ErrInvalidProject, f, p.ConfigPath, err)
		}
		add(filepath.Clean(f))
	}

	walked := make(map[string]bool)
	for _, inc := range p.Include {
		if walked[inc.Base] {
			continue
		}
		walked[inc.Base] = true
		if err := p.walk(inc.Base, add); err != nil {
			return nil, err
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no inputs were found in %s (include %v, exclude %v)",
			ErrInvalidProject, p.ConfigPath, p.Include, p.Exclude)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Project) walk(root string, add func(string)) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") || p.excluded(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.excluded(path) || !p.included(path) {
			return nil
		}
		add(path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}

// IsSourcePath reports whether path is a .ts or .tsx file that is not a
// declaration file.
func IsSourcePath(path string) bool {
	if strings.HasSuffix(path, ".d.ts") || strings.HasSuffix(path, ".d.tsx") {
		return false
	}
	return strings.HasSuffix(path, ".ts") || strings.HasSuffix(path, ".tsx")
}

func (p *Project) included(path string) bool {
	for _, g := range p.Include {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (p *Project) excluded(path string) bool {
	for _, g := range p.Exclude {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Match applies tsconfig glob semantics to an absolute path: an entry
// without a file extension or wildcard in its last segment names a
// directory and matches everything below it.
func (g Glob) Match(path string) bool {
	rel, err := filepath.Rel(g.Base, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	if g.Pattern == "" {
		if rel == "." {
			return true
		}
		return !strings.Contains(filepath.Base(g.Base), ".")
	}
	if ok, _ := doublestar.Match(g.Pattern, rel); ok {
		return true
	}
	last := g.Pattern[strings.LastIndex(g.Pattern, "/")+1:]
	if !strings.ContainsAny(last, "*?.") {
		ok, _ := doublestar.Match(g.Pattern+"/**", rel)
		return ok
	}
	return false
}
