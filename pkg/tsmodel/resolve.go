package tsmodel

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Declaration is the syntax node a reference resolves to.
type Declaration struct {
	File *SourceFile
	// Node is a function_declaration, generator_function_declaration,
	// variable_declarator, method_definition or class declaration, or the
	// expression of an anonymous default export.
	Node *sitter.Node
}

// target is an intermediate resolution result: either a declaration or a
// whole module reached through a namespace import.
type target struct {
	decl      *Declaration
	namespace *SourceFile
}

// Resolve maps a callee or JSX tag reference in file to the declaration it
// names. Import aliases and re-exports are followed to the original
// declaration. Supported references are identifiers, this.method,
// Class.method and namespace.member. It returns nil when the reference
// cannot be resolved inside the program.
func (p *Program) Resolve(file *SourceFile, ref *sitter.Node) *Declaration {
	if ref == nil {
		return nil
	}
	switch ref.Type() {
	case "identifier", "type_identifier":
		return p.lookup(file, ref, file.Text(ref)).decl
	case "member_expression", "nested_identifier":
		object, property := memberParts(ref)
		if object == nil || property == nil {
			return nil
		}
		name := file.Text(property)
		switch object.Type() {
		case "this":
			return methodOf(file, enclosingClass(ref), name)
		case "identifier":
			t := p.lookup(file, object, file.Text(object))
			if t.namespace != nil {
				return p.lookupExport(t.namespace, name, make(map[string]bool)).decl
			}
			if t.decl != nil && isClass(t.decl.Node) {
				return methodOf(t.decl.File, t.decl.Node, name)
			}
		}
	}
	return nil
}

func memberParts(n *sitter.Node) (object, property *sitter.Node) {
	if n.Type() == "member_expression" {
		return n.ChildByFieldName("object"), n.ChildByFieldName("property")
	}
	count := int(n.NamedChildCount())
	if count < 2 {
		return nil, nil
	}
	return n.NamedChild(0), n.NamedChild(count - 1)
}

// lookup resolves name as seen from ref: enclosing block scopes first, then
// the file's top-level declarations, then its imports.
func (p *Program) lookup(file *SourceFile, ref *sitter.Node, name string) target {
	for n := ref.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "statement_block":
			if decl := findInBlock(file, n, name); decl != nil {
				return target{decl: &Declaration{File: file, Node: decl}}
			}
		case "function_declaration", "generator_function_declaration", "function_expression",
			"function", "arrow_function", "method_definition":
			if hasParameter(file, n, name) {
				return target{}
			}
		}
	}

	if decl, ok := file.scope.decls[name]; ok {
		return target{decl: &Declaration{File: file, Node: decl}}
	}
	if imp, ok := file.scope.imports[name]; ok {
		return p.resolveImport(file, imp, make(map[string]bool))
	}
	return target{}
}

func (p *Program) resolveImport(from *SourceFile, imp importBinding, visited map[string]bool) target {
	mod := p.resolveModule(from, imp.module)
	if mod == nil {
		return target{}
	}
	if imp.name == importNamespace {
		return target{namespace: mod}
	}
	return p.lookupExport(mod, imp.name, visited)
}

// lookupExport finds what file exports under name, following re-export
// chains. visited guards against export cycles.
func (p *Program) lookupExport(file *SourceFile, name string, visited map[string]bool) target {
	key := file.Path + "#" + name
	if visited[key] {
		return target{}
	}
	visited[key] = true

	if e, ok := file.scope.exports[name]; ok {
		switch {
		case e.node != nil:
			return target{decl: &Declaration{File: file, Node: e.node}}
		case e.local != "":
			if decl, ok := file.scope.decls[e.local]; ok {
				return target{decl: &Declaration{File: file, Node: decl}}
			}
			if imp, ok := file.scope.imports[e.local]; ok {
				return p.resolveImport(file, imp, visited)
			}
			return target{}
		case e.module != "":
			return p.resolveImport(file, importBinding{module: e.module, name: e.name}, visited)
		}
	}

	if name == importDefault {
		return target{}
	}
	for _, spec := range file.scope.starExports {
		mod := p.resolveModule(file, spec)
		if mod == nil {
			continue
		}
		if t := p.lookupExport(mod, name, visited); t.decl != nil || t.namespace != nil {
			return t
		}
	}
	return target{}
}

// resolveModule maps a module specifier to a program file. Relative
// specifiers resolve against the importing file; others go through
// compilerOptions.paths and baseUrl. Package imports resolve to nil.
func (p *Program) resolveModule(from *SourceFile, spec string) *SourceFile {
	if strings.HasPrefix(spec, ".") {
		return p.tryModule(filepath.Join(filepath.Dir(from.Path), filepath.FromSlash(spec)))
	}

	for _, pattern := range sortedPatterns(p.project.Paths) {
		star, ok := matchPathPattern(pattern, spec)
		if !ok {
			continue
		}
		for _, sub := range p.project.Paths[pattern] {
			candidate := strings.Replace(sub, "*", star, 1)
			if f := p.tryModule(filepath.Join(p.project.BaseURL, filepath.FromSlash(candidate))); f != nil {
				return f
			}
		}
	}

	if p.project.BaseURL != "" {
		return p.tryModule(filepath.Join(p.project.BaseURL, filepath.FromSlash(spec)))
	}
	return nil
}

func (p *Program) tryModule(base string) *SourceFile {
	candidates := []string{base, base + ".ts", base + ".tsx",
		filepath.Join(base, "index.ts"), filepath.Join(base, "index.tsx")}
	switch ext := filepath.Ext(base); ext {
	case ".js", ".jsx", ".mjs":
		trimmed := strings.TrimSuffix(base, ext)
		candidates = append(candidates, trimmed+".ts", trimmed+".tsx")
	}
	for _, c := range candidates {
		if f, ok := p.byPath[filepath.Clean(c)]; ok {
			return f
		}
	}
	return nil
}

// sortedPatterns orders paths patterns by specificity: longest prefix before
// the wildcard first, then lexically.
func sortedPatterns(paths map[string][]string) []string {
	out := make([]string, 0, len(paths))
	for k := range paths {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		pi := strings.Index(out[i]+"*", "*")
		pj := strings.Index(out[j]+"*", "*")
		if pi != pj {
			return pi > pj
		}
		return out[i] < out[j]
	})
	return out
}

// matchPathPattern matches spec against a paths key with at most one "*"
// and returns the text the wildcard captured.
func matchPathPattern(pattern, spec string) (string, bool) {
	i := strings.Index(pattern, "*")
	if i < 0 {
		return "", pattern == spec
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	if len(spec) < len(prefix)+len(suffix) || !strings.HasPrefix(spec, prefix) || !strings.HasSuffix(spec, suffix) {
		return "", false
	}
	return spec[len(prefix) : len(spec)-len(suffix)], true
}

// findInBlock returns a declaration named name directly inside block.
func findInBlock(file *SourceFile, block *sitter.Node, name string) *sitter.Node {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		if decl, ok := declaredNames(file, block.NamedChild(i))[name]; ok {
			return decl
		}
	}
	return nil
}

// hasParameter reports whether fn declares a parameter called name. Such a
// parameter shadows every outer binding of the same name.
func hasParameter(file *SourceFile, fn *sitter.Node, name string) bool {
	if param := fn.ChildByFieldName("parameter"); param != nil {
		return file.Text(param) == name
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return false
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		pattern := param.ChildByFieldName("pattern")
		if pattern == nil {
			pattern = param
		}
		if pattern.Type() == "identifier" && file.Text(pattern) == name {
			return true
		}
	}
	return false
}

func enclosingClass(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if isClass(p) {
			return p
		}
	}
	return nil
}

func isClass(n *sitter.Node) bool {
	switch n.Type() {
	case "class_declaration", "abstract_class_declaration", "class":
		return true
	}
	return false
}

// methodOf finds a method named name in the body of class.
func methodOf(file *SourceFile, class *sitter.Node, name string) *Declaration {
	if class == nil {
		return nil
	}
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		if n := member.ChildByFieldName("name"); n != nil && file.Text(n) == name {
			return &Declaration{File: file, Node: member}
		}
	}
	return nil
}
