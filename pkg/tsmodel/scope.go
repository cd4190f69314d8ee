package tsmodel

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	importDefault   = "default"
	importNamespace = "*"
)

// importBinding is a local name introduced by an import statement.
type importBinding struct {
	module string // module specifier as written
	name   string // exported name, importDefault or importNamespace
}

// exportEntry describes what an exported name refers to. Exactly one of
// node, local or module is set.
type exportEntry struct {
	node   *sitter.Node // declaration exported in place
	local  string       // local binding exported by name
	module string       // re-export source
	name   string       // name in module for re-exports
}

// fileScope holds the top-level bindings of one file.
type fileScope struct {
	decls       map[string]*sitter.Node
	imports     map[string]importBinding
	exports     map[string]exportEntry
	starExports []string
}

func buildScope(f *SourceFile) *fileScope {
	s := &fileScope{
		decls:   make(map[string]*sitter.Node),
		imports: make(map[string]importBinding),
		exports: make(map[string]exportEntry),
	}
	root := f.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement":
			s.addImport(f, child)
		case "export_statement":
			s.addExport(f, child)
		default:
			for name, decl := range declaredNames(f, child) {
				s.decls[name] = decl
			}
		}
	}
	return s
}

func (s *fileScope) addImport(f *SourceFile, stmt *sitter.Node) {
	source := stmt.ChildByFieldName("source")
	if source == nil {
		return
	}
	module := unquote(f.Text(source))

	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		clause := stmt.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			part := clause.NamedChild(j)
			switch part.Type() {
			case "identifier":
				s.imports[f.Text(part)] = importBinding{module: module, name: importDefault}
			case "namespace_import":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					if id := part.NamedChild(k); id.Type() == "identifier" {
						s.imports[f.Text(id)] = importBinding{module: module, name: importNamespace}
					}
				}
			case "named_imports":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := f.Text(spec.ChildByFieldName("name"))
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = f.Text(alias)
					}
					if name != "" {
						s.imports[local] = importBinding{module: module, name: name}
					}
				}
			}
		}
	}
}

func (s *fileScope) addExport(f *SourceFile, stmt *sitter.Node) {
	isDefault := false
	var source string
	if src := stmt.ChildByFieldName("source"); src != nil {
		source = unquote(f.Text(src))
	}
	for i := 0; i < int(stmt.ChildCount()); i++ {
		child := stmt.Child(i)
		switch child.Type() {
		case "default":
			isDefault = true
		case "*":
			if source != "" && stmt.NamedChildCount() == 1 {
				s.starExports = append(s.starExports, source)
			}
		case "namespace_export":
			if source != "" && child.NamedChildCount() > 0 {
				s.exports[unquote(f.Text(child.NamedChild(0)))] = exportEntry{module: source, name: importNamespace}
			}
		case "export_clause":
			for k := 0; k < int(child.NamedChildCount()); k++ {
				spec := child.NamedChild(k)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := unquote(f.Text(spec.ChildByFieldName("name")))
				exported := name
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					exported = unquote(f.Text(alias))
				}
				if name == "" {
					continue
				}
				if source != "" {
					s.exports[exported] = exportEntry{module: source, name: name}
				} else {
					s.exports[exported] = exportEntry{local: name}
				}
			}
		}
	}

	if decl := stmt.ChildByFieldName("declaration"); decl != nil {
		names := declaredNames(f, decl)
		for name, node := range names {
			s.decls[name] = node
			if !isDefault {
				s.exports[name] = exportEntry{node: node}
			}
		}
		if isDefault {
			if len(names) == 1 {
				for _, node := range names {
					s.exports[importDefault] = exportEntry{node: node}
				}
			} else {
				s.exports[importDefault] = exportEntry{node: decl}
			}
		}
		return
	}

	if value := stmt.ChildByFieldName("value"); value != nil && isDefault {
		if value.Type() == "identifier" {
			s.exports[importDefault] = exportEntry{local: f.Text(value)}
		} else {
			s.exports[importDefault] = exportEntry{node: value}
		}
	}
}

// declaredNames returns the bindings a statement introduces that the
// resolver can point at: functions, classes and variable declarators with a
// plain identifier name.
func declaredNames(f *SourceFile, stmt *sitter.Node) map[string]*sitter.Node {
	out := make(map[string]*sitter.Node)
	switch stmt.Type() {
	case "function_declaration", "generator_function_declaration",
		"class_declaration", "abstract_class_declaration":
		if name := stmt.ChildByFieldName("name"); name != nil {
			out[f.Text(name)] = stmt
		}
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			decl := stmt.NamedChild(i)
			if decl.Type() != "variable_declarator" {
				continue
			}
			if name := decl.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				out[f.Text(name)] = decl
			}
		}
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(s, "'\"`")
}
