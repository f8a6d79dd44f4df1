package types

import (
	"sort"
	"time"
)

// ResultTreeNode represents a zest in the hierarchical result tree
type ResultTreeNode struct {
	// Node identity
	FullName string // Dot-delimited path, "" for the tree root
	Name     string // Local name

	// Execution data, taken from the node's stop record
	Status         TestStatus
	Duration       time.Duration
	Error          *ErrorInfo
	Skip           string
	WorkerIndex    int
	ExecutionOrder int // Order in which the stop record arrived

	// Hierarchy
	Children []*ResultTreeNode
	Parent   *ResultTreeNode
	Depth    int // 0 for roots

	Record *ResultRecord // Original stop record, nil for placeholder nodes
}

// ResultTreeStats contains aggregated statistics for a subtree
type ResultTreeStats struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	PassRate float64
	Status   TestStatus
}

// ResultTree is the complete hierarchy of one run's stop records
type ResultTree struct {
	Root     *ResultTreeNode
	Stats    ResultTreeStats
	Duration time.Duration // Sum of root durations
	RunID    string

	// Flat indices
	AllNodes    []*ResultTreeNode // Nodes in execution order
	FailedNodes []*ResultTreeNode

	nodesByName map[string]*ResultTreeNode
}

// BuildResultTree creates a ResultTree from stop records. Start records are
// ignored. Parents missing from the input are created as placeholders so the
// tree stays connected even when a worker crashed mid-root.
func BuildResultTree(records []*ResultRecord, runID string) *ResultTree {
	tree := &ResultTree{
		RunID:       runID,
		Root:        &ResultTreeNode{Depth: -1, WorkerIndex: UnassignedWorker},
		nodesByName: make(map[string]*ResultTreeNode),
	}
	tree.nodesByName[""] = tree.Root

	order := 0
	for _, rec := range records {
		if rec == nil || rec.IsRunning {
			continue
		}
		node := tree.ensurePath(rec.FullName)
		node.Status = rec.Status()
		node.Duration = rec.Duration()
		node.Error = rec.Error
		node.Skip = rec.Skip
		node.WorkerIndex = rec.WorkerIndex
		node.ExecutionOrder = order
		node.Record = rec
		order++

		tree.AllNodes = append(tree.AllNodes, node)
		if node.Status == TestStatusFail {
			tree.FailedNodes = append(tree.FailedNodes, node)
		}
		if node.Depth == 0 {
			tree.Duration += node.Duration
		}
	}

	sortChildren(tree.Root)
	sort.SliceStable(tree.AllNodes, func(i, j int) bool {
		return tree.AllNodes[i].ExecutionOrder < tree.AllNodes[j].ExecutionOrder
	})
	tree.Stats = tree.Root.Stats()
	return tree
}

func (tree *ResultTree) ensurePath(fullName string) *ResultTreeNode {
	if node, ok := tree.nodesByName[fullName]; ok {
		return node
	}
	_, path := ParseFullName(fullName)
	parent := tree.Root
	for i := range path {
		name := JoinFullName(path[:i+1]...)
		node, ok := tree.nodesByName[name]
		if !ok {
			node = &ResultTreeNode{
				FullName:       name,
				Name:           path[i],
				Status:         TestStatusRunning,
				WorkerIndex:    UnassignedWorker,
				ExecutionOrder: -1,
				Parent:         parent,
				Depth:          i,
			}
			parent.Children = append(parent.Children, node)
			tree.nodesByName[name] = node
		}
		parent = node
	}
	tree.nodesByName[fullName] = parent
	return parent
}

// children finish before their parent, so order by the parent-visible
// position: placeholder nodes last, then by arrival
func sortChildren(node *ResultTreeNode) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if (a.ExecutionOrder < 0) != (b.ExecutionOrder < 0) {
			return b.ExecutionOrder < 0
		}
		return a.ExecutionOrder < b.ExecutionOrder
	})
	for _, child := range node.Children {
		sortChildren(child)
	}
}

// Stats aggregates the statuses of the node's subtree, the node included
func (n *ResultTreeNode) Stats() ResultTreeStats {
	var stats ResultTreeStats
	n.walk(func(node *ResultTreeNode) bool {
		if node.Record == nil {
			return true
		}
		stats.Total++
		switch node.Status {
		case TestStatusPass:
			stats.Passed++
		case TestStatusFail:
			stats.Failed++
		case TestStatusSkip:
			stats.Skipped++
		}
		return true
	})

	if executed := stats.Total - stats.Skipped; executed > 0 {
		stats.PassRate = float64(stats.Passed) / float64(executed) * 100
	}
	switch {
	case stats.Failed > 0:
		stats.Status = TestStatusFail
	case stats.Total > 0 && stats.Skipped == stats.Total:
		stats.Status = TestStatusSkip
	case stats.Total > 0:
		stats.Status = TestStatusPass
	default:
		stats.Status = TestStatusRunning
	}
	return stats
}

func (n *ResultTreeNode) walk(visitor func(*ResultTreeNode) bool) bool {
	if !visitor(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.walk(visitor) {
			return false
		}
	}
	return true
}

// Walk visits every node depth-first in display order. Returning false
// from visitor stops the walk.
func (tree *ResultTree) Walk(visitor func(*ResultTreeNode) bool) {
	for _, child := range tree.Root.Children {
		if !child.walk(visitor) {
			return
		}
	}
}

// FindNode returns the node with the given full name, or nil
func (tree *ResultTree) FindNode(fullName string) *ResultTreeNode {
	if fullName == "" {
		return nil
	}
	return tree.nodesByName[fullName]
}

// Slowest returns up to n executed leaf-or-inner nodes ordered by duration,
// longest first
func (tree *ResultTree) Slowest(n int) []*ResultTreeNode {
	var nodes []*ResultTreeNode
	for _, node := range tree.AllNodes {
		if node.Status == TestStatusPass || node.Status == TestStatusFail {
			nodes = append(nodes, node)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Duration > nodes[j].Duration
	})
	if n >= 0 && len(nodes) > n {
		nodes = nodes[:n]
	}
	return nodes
}
