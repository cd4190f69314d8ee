package impact

import (
	"errors"
	"fmt"

	"github.com/callscope/callscope/pkg/callgraph"
)

// MaxTraversalDepth bounds the recursion of BuildImpactTree when no depth
// limit is given.
const MaxTraversalDepth = 2048

// ErrTraversalTooDeep is returned when an unbounded tree walk exceeds
// MaxTraversalDepth levels.
var ErrTraversalTooDeep = errors.New("impact tree exceeds maximum traversal depth")

// MaxTreeNodes caps the number of nodes BuildImpactTree materializes. Caller
// graphs with shared ancestors repeat whole subtrees on every branch, so the
// depth limit alone does not bound the tree.
const MaxTreeNodes = 10000

// TreeNode is one function in a caller tree. The root describes the changed
// function; every child is a distinct caller of its parent.
type TreeNode struct {
	ID   callgraph.FunctionID `json:"id"`
	Name string               `json:"name"`
	File string               `json:"file"`
	// Line is the definition start for the root and the first call line
	// for callers.
	Line int `json:"line"`
	// Lines lists every call line when a caller calls its parent more than once.
	Lines    []int       `json:"lines,omitempty"`
	Children []*TreeNode `json:"children"`
	// Circular marks a caller already present higher up the same branch.
	// Its callers are not expanded again.
	Circular bool `json:"circular,omitempty"`
	// Truncated marks a node whose callers were not all expanded, either at
	// the depth limit or once MaxTreeNodes was reached.
	Truncated bool `json:"truncated,omitempty"`
}

// Size returns the number of nodes in the tree.
func (n *TreeNode) Size() int {
	if n == nil {
		return 0
	}
	size := 1
	for _, c := range n.Children {
		size += c.Size()
	}
	return size
}

// BuildImpactTree expands the callers of id into a tree. Expansion stops at
// maxDepth levels (Unbounded for none) and at callers already on the current
// branch, and no more than MaxTreeNodes nodes are built. An id absent from
// the graph yields a root without children.
func BuildImpactTree(g *callgraph.CallGraph, id callgraph.FunctionID, maxDepth int) (*TreeNode, error) {
	root := newTreeNode(id, 0)
	if info, ok := g.Get(id); ok {
		root.Line = info.Definition.StartLine
	} else {
		checkPresent(g, id)
		return root, nil
	}

	t := &treeBuilder{g: g, maxDepth: maxDepth, budget: MaxTreeNodes - 1, path: map[callgraph.FunctionID]bool{}}
	if err := t.expand(root, 0); err != nil {
		return nil, fmt.Errorf("building impact tree for %s: %w", id, err)
	}
	return root, nil
}

type treeBuilder struct {
	g        *callgraph.CallGraph
	maxDepth int
	budget   int
	path     map[callgraph.FunctionID]bool
}

func (t *treeBuilder) expand(node *TreeNode, depth int) error {
	callers := t.g.Callers(node.ID)
	if len(callers) == 0 {
		return nil
	}
	if t.maxDepth >= 0 && depth >= t.maxDepth {
		node.Truncated = true
		return nil
	}
	if t.maxDepth < 0 && depth >= MaxTraversalDepth {
		return ErrTraversalTooDeep
	}

	t.path[node.ID] = true
	defer delete(t.path, node.ID)

	index := make(map[callgraph.FunctionID]*TreeNode)
	for _, site := range callers {
		if child, ok := index[site.CallerID]; ok {
			child.Lines = append(child.Lines, site.Line)
			continue
		}
		if t.budget == 0 {
			node.Truncated = true
			continue
		}
		t.budget--
		child := newTreeNode(site.CallerID, site.Line)
		child.Lines = []int{site.Line}
		index[site.CallerID] = child
		node.Children = append(node.Children, child)
	}

	for _, child := range node.Children {
		if len(child.Lines) == 1 {
			child.Lines = nil
		}
		if t.path[child.ID] {
			child.Circular = true
			continue
		}
		if err := t.expand(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func newTreeNode(id callgraph.FunctionID, line int) *TreeNode {
	return &TreeNode{
		ID:       id,
		Name:     id.Name(),
		File:     id.File(),
		Line:     line,
		Children: []*TreeNode{},
	}
}
