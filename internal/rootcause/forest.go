// Package rootcause reduces a set of rebuilt units to the minimal forest of
// units whose rebuild was not caused by another rebuilt unit.
package rootcause

import (
	"github.com/dbsmedya/cargowhy/internal/diff"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// CauseNode is one rebuilt unit in the cause forest. Children are the
// rebuilt dependents attributed to it.
type CauseNode struct {
	Unit unit.ID
	// Reasons holds the intrinsic reasons; empty for a propagated rebuild.
	Reasons []diff.Reason
	// Synthetic marks a fallback root: nothing intrinsic was found for it.
	Synthetic bool
	// Distance is the number of dependency edges to the node's root.
	Distance int
	// AlsoCausedBy lists the other roots at the same distance as the
	// unit's own root, reached without another root in between. Farther
	// roots are not listed. The unit is placed only once.
	AlsoCausedBy []unit.ID
	Children     []*CauseNode
}

// IsRoot reports whether the node is a root cause.
func (n *CauseNode) IsRoot() bool {
	return n.Distance == 0
}

// Forest is the result of a reduction.
type Forest struct {
	Roots        []*CauseNode
	TotalRebuilt int
}

// RootCount returns the number of root causes.
func (f *Forest) RootCount() int {
	return len(f.Roots)
}

// Walk visits every node depth-first, parents before children. Returning
// false from fn skips the node's children.
func (f *Forest) Walk(fn func(n *CauseNode, depth int) bool) {
	var walk func(n *CauseNode, depth int)
	walk = func(n *CauseNode, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, r := range f.Roots {
		walk(r, 0)
	}
}

// Units returns every unit in the forest in walk order.
func (f *Forest) Units() []unit.ID {
	var ids []unit.ID
	f.Walk(func(n *CauseNode, _ int) bool {
		ids = append(ids, n.Unit)
		return true
	})
	return ids
}

// Find returns the node of id, or nil.
func (f *Forest) Find(id unit.ID) *CauseNode {
	var found *CauseNode
	f.Walk(func(n *CauseNode, _ int) bool {
		if n.Unit == id {
			found = n
		}
		return found == nil
	})
	return found
}
