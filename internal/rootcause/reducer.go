package rootcause

import (
	"fmt"
	"sort"

	"github.com/dbsmedya/cargowhy/internal/diff"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// NoInputChange is the detail of a fallback root's ForcedOrUnknown reason.
const NoInputChange = "no input change detected"

// Intrinsic returns the reasons of a unit that are not explained by another
// rebuilt unit: everything except DependencyChanged on a dependency in rebuilt.
func Intrinsic(reasons []diff.Reason, rebuilt map[unit.ID]bool) []diff.Reason {
	var out []diff.Reason
	for _, r := range reasons {
		if r.Kind == diff.KindDependencyChanged && rebuilt[r.Dependency.Dep] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Reduce builds the cause forest of the rebuild set.
//
// A rebuilt unit with intrinsic reasons is a root. Every other rebuilt unit
// is placed exactly once, below the closest root it reaches through rebuilt
// dependencies without passing another root; ties go to the root that sorts
// first, and the other roots at the same distance are listed in
// AlsoCausedBy. A
// unit that reaches no root and has no rebuilt dependency becomes a
// synthetic ForcedOrUnknown root.
//
// Roots and children keep the order of rebuilt. A rebuilt unit missing from
// g, or a cycle among rebuilt units, wraps graph.ErrGraphInconsistent.
func Reduce(rebuilt []unit.ID, g *graph.Graph, reasons map[unit.ID][]diff.Reason) (*Forest, error) {
	var order []unit.ID
	inR := make(map[unit.ID]bool, len(rebuilt))
	for _, id := range rebuilt {
		if inR[id] {
			continue
		}
		if !g.HasNode(id) {
			return nil, fmt.Errorf("%w: rebuilt unit %s is not in the unit graph", graph.ErrGraphInconsistent, id)
		}
		inR[id] = true
		order = append(order, id)
	}

	sub := g.Induced(order)
	topo, err := sub.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("failed to order rebuilt units: %w", err)
	}

	nodes := make(map[unit.ID]*CauseNode, len(order))
	for _, id := range order {
		nodes[id] = &CauseNode{Unit: id, Reasons: Intrinsic(reasons[id], inR)}
	}

	// reach[u] maps each root u reaches without crossing another root to
	// its distance. Dependencies come first in topo, so reach is complete
	// for every dependency when u is visited.
	reach := make(map[unit.ID]map[unit.ID]int, len(order))
	isRoot := make(map[unit.ID]bool)
	for _, id := range topo {
		n := nodes[id]
		deps := sub.GetDeps(id)
		if len(n.Reasons) == 0 && len(deps) == 0 {
			n.Reasons = []diff.Reason{diff.ForcedOrUnknown(NoInputChange)}
			n.Synthetic = true
		}
		if len(n.Reasons) > 0 {
			isRoot[id] = true
			reach[id] = map[unit.ID]int{id: 0}
			continue
		}

		r := make(map[unit.ID]int)
		for _, dep := range deps {
			if isRoot[dep] {
				setMin(r, dep, 1)
				continue
			}
			for root, dist := range reach[dep] {
				setMin(r, root, dist+1)
			}
		}
		reach[id] = r
	}

	forest := &Forest{TotalRebuilt: len(order)}
	for _, id := range order {
		n := nodes[id]
		if isRoot[id] {
			forest.Roots = append(forest.Roots, n)
			continue
		}

		roots := sortedRoots(reach[id])
		primary := roots[0]
		n.Distance = reach[id][primary]
		for _, other := range roots[1:] {
			if reach[id][other] != n.Distance {
				break
			}
			n.AlsoCausedBy = append(n.AlsoCausedBy, other)
		}

		parent := nodes[primary]
		for _, dep := range sub.GetDeps(id) {
			if dep == primary && n.Distance == 1 {
				break
			}
			if !isRoot[dep] {
				if d, ok := reach[dep][primary]; ok && d == n.Distance-1 && sortedRoots(reach[dep])[0] == primary {
					parent = nodes[dep]
					break
				}
			}
		}
		parent.Children = append(parent.Children, n)
	}
	return forest, nil
}

func setMin(m map[unit.ID]int, id unit.ID, dist int) {
	if cur, ok := m[id]; !ok || dist < cur {
		m[id] = dist
	}
}

// sortedRoots orders reachable roots by distance, then unit order.
func sortedRoots(reach map[unit.ID]int) []unit.ID {
	roots := make([]unit.ID, 0, len(reach))
	for id := range reach {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool {
		if reach[roots[i]] != reach[roots[j]] {
			return reach[roots[i]] < reach[roots[j]]
		}
		return roots[i].Less(roots[j])
	})
	return roots
}
