package callgraph

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/callscope/callscope/pkg/tsmodel"
)

// Shape is the closed set of node kinds the builder distinguishes.
type Shape int

const (
	ShapeOther Shape = iota
	// ShapeFunctionDeclaration is `function name() {}`.
	ShapeFunctionDeclaration
	// ShapeFunctionBinding is `const name = () => {}` or `const name = function () {}`.
	ShapeFunctionBinding
	// ShapeWrappedBinding is `const name = wrapper(() => {})` or `const name = wrapper(impl)`.
	ShapeWrappedBinding
	// ShapeMethod is a class method with a plain name.
	ShapeMethod
	// ShapeCall is a call expression other than import().
	ShapeCall
	// ShapeElement is a JSX opening or self-closing element.
	ShapeElement
)

func (s Shape) String() string {
	switch s {
	case ShapeFunctionDeclaration:
		return "function-declaration"
	case ShapeFunctionBinding:
		return "function-binding"
	case ShapeWrappedBinding:
		return "wrapped-binding"
	case ShapeMethod:
		return "method"
	case ShapeCall:
		return "call"
	case ShapeElement:
		return "element"
	default:
		return "other"
	}
}

// IsFunction reports whether the shape declares a trackable function.
func (s Shape) IsFunction() bool {
	switch s {
	case ShapeFunctionDeclaration, ShapeFunctionBinding, ShapeWrappedBinding, ShapeMethod:
		return true
	}
	return false
}

// DefaultWrappers are the higher-order calls unwrapped when no allow-list is
// configured.
var DefaultWrappers = []string{"memo", "React.memo", "forwardRef", "React.forwardRef"}

// WrapperAny in an allow-list unwraps every call whose first argument is a
// function literal.
const WrapperAny = "*"

// Identifier classifies syntax nodes and assigns function ids.
type Identifier struct {
	wrappers map[string]bool
	any      bool
}

// NewIdentifier builds an Identifier for the given wrapper allow-list.
// A nil list selects DefaultWrappers.
func NewIdentifier(wrappers []string) *Identifier {
	if wrappers == nil {
		wrappers = DefaultWrappers
	}
	id := &Identifier{wrappers: make(map[string]bool, len(wrappers))}
	for _, w := range wrappers {
		if w == WrapperAny {
			id.any = true
			continue
		}
		id.wrappers[w] = true
	}
	return id
}

// Identify returns the id of node when node declares a function.
func Identify(node *sitter.Node, file *tsmodel.SourceFile) (FunctionID, bool) {
	return NewIdentifier(nil).Identify(node, file)
}

// Identify returns the id of node when node declares a function.
func (i *Identifier) Identify(node *sitter.Node, file *tsmodel.SourceFile) (FunctionID, bool) {
	shape := i.Classify(node, file)
	if !shape.IsFunction() {
		return "", false
	}
	name := node.ChildByFieldName("name")
	if name == nil {
		return "", false
	}
	return NewFunctionID(file.RelPath, file.Text(name)), true
}

// Classify decides the shape of node.
func (i *Identifier) Classify(node *sitter.Node, file *tsmodel.SourceFile) Shape {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration":
		if node.ChildByFieldName("name") != nil {
			return ShapeFunctionDeclaration
		}
	case "function_expression", "function":
		// `export default function name() {}` may surface as an expression.
		if node.ChildByFieldName("name") != nil && node.Parent() != nil && node.Parent().Type() == "export_statement" {
			return ShapeFunctionDeclaration
		}
	case "variable_declarator":
		name := node.ChildByFieldName("name")
		value := node.ChildByFieldName("value")
		if name == nil || value == nil || name.Type() != "identifier" {
			return ShapeOther
		}
		if isFunctionLiteral(value) {
			return ShapeFunctionBinding
		}
		if _, ok := i.wrapped(value, file); ok {
			return ShapeWrappedBinding
		}
	case "method_definition":
		name := node.ChildByFieldName("name")
		if name != nil && (name.Type() == "property_identifier" || name.Type() == "private_property_identifier") {
			return ShapeMethod
		}
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn != nil && fn.Type() != "import" {
			return ShapeCall
		}
	case "jsx_opening_element", "jsx_self_closing_element":
		return ShapeElement
	}
	return ShapeOther
}

// WrappedReference returns the identifier passed to a wrapper call in a
// ShapeWrappedBinding declarator, e.g. Impl in `const X = memo(Impl)`.
// It returns nil when the wrapped function is a literal.
func (i *Identifier) WrappedReference(declarator *sitter.Node, file *tsmodel.SourceFile) *sitter.Node {
	value := declarator.ChildByFieldName("value")
	if value == nil {
		return nil
	}
	arg, ok := i.wrapped(value, file)
	if !ok || arg.Type() != "identifier" {
		return nil
	}
	return arg
}

// wrapped inspects a call expression initializer and returns its first
// argument when the call is an allowed wrapper around a function.
func (i *Identifier) wrapped(value *sitter.Node, file *tsmodel.SourceFile) (*sitter.Node, bool) {
	if value.Type() != "call_expression" {
		return nil, false
	}
	fn := value.ChildByFieldName("function")
	args := value.ChildByFieldName("arguments")
	if fn == nil || args == nil || args.NamedChildCount() == 0 {
		return nil, false
	}
	first := args.NamedChild(0)
	callee := strings.Join(strings.Fields(file.Text(fn)), "")
	named := i.wrappers[callee]

	switch {
	case isFunctionLiteral(first):
		return first, named || i.any
	case first.Type() == "identifier":
		return first, named
	}
	return nil, false
}

func isFunctionLiteral(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function_expression", "function":
		return true
	}
	return false
}
