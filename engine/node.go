package engine

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// DefaultSkipReason is used when a zest is skipped without a reason
const DefaultSkipReason = "skipped"

// TestNode describes one zest and its statically known children. The engine
// only reads nodes; children declared by a body while it runs live in the
// body's frame and never mutate the node.
type TestNode struct {
	FullName    string
	Children    []*TestNode
	Groups      map[string]struct{}
	SkipReasons []string
	Source      types.SourceLocation
	Body        func(z *Z)
}

// NodeOption configures a node when it is declared
type NodeOption func(*TestNode)

// Group tags a zest with a group name
func Group(name string) NodeOption {
	return func(n *TestNode) {
		if name == "" {
			return
		}
		if n.Groups == nil {
			n.Groups = make(map[string]struct{})
		}
		n.Groups[name] = struct{}{}
	}
}

// Skip marks a zest (and its whole subtree) as skipped
func Skip(reason string) NodeOption {
	return func(n *TestNode) {
		if reason == "" {
			reason = DefaultSkipReason
		}
		n.SkipReasons = append(n.SkipReasons, reason)
	}
}

// NewTestNode builds a node and applies the given options
func NewTestNode(fullName string, body func(z *Z), source types.SourceLocation, opts ...NodeOption) *TestNode {
	n := &TestNode{
		FullName: fullName,
		Body:     body,
		Source:   source,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ShortName returns the last segment of the node's full name
func (n *TestNode) ShortName() string {
	return types.ShortName(n.FullName)
}

// IsRoot reports whether the node is a root (its name has no separator)
func (n *TestNode) IsRoot() bool {
	return types.RootName(n.FullName) == n.FullName
}

// HasGroup reports whether the node carries the given tag
func (n *TestNode) HasGroup(name string) bool {
	_, ok := n.Groups[name]
	return ok
}

// GroupNames returns the node's tags in sorted order
func (n *TestNode) GroupNames() []string {
	names := make([]string, 0, len(n.Groups))
	for g := range n.Groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// AddChild appends a statically declared child named parent.local
func (n *TestNode) AddChild(local string, body func(z *Z), opts ...NodeOption) *TestNode {
	child := NewTestNode(types.JoinFullName(n.FullName, local), body, n.Source, opts...)
	n.Children = append(n.Children, child)
	return child
}
