// Package graph provides the unit dependency graph and its algorithms for cargowhy.
package graph

import (
	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Invocation is the current compiler invocation of a unit, taken from the
// build trace. Observed is false for units cargo did not run this time.
type Invocation struct {
	Flags    []string
	Metadata string // unit hash cargo passed to rustc
	Observed bool
	Line     int // trace line of the invocation
}

// Node represents a compilation unit in the dependency graph.
type Node struct {
	ID         unit.ID
	PackageID  string   // cargo package id as reported in the unit graph
	Target     string   // target name as reported by cargo
	TargetKind string   // first target kind (lib, bin, test, custom-build, ...)
	SrcPath    string   // target root source file
	PackageDir string   // package root for path dependencies, else empty
	Mode       string   // cargo compile mode (build, check, test, run-custom-build)
	Features   []string // enabled features, sorted
	// ExternNames maps a dependency to the crate name this unit uses for it.
	ExternNames map[unit.ID]string
	Invocation Invocation
	Hints      []trace.Hint // dirty reasons cargo itself reported for the unit
	IsRoot     bool         // True if cargo listed the unit as a requested root
}

// Edge represents a "depends on" relationship between units.
type Edge struct {
	From unit.ID // consumer
	To   unit.ID // dependency
}

// Graph is the unit dependency graph of one diagnostic run.
// It is built once and read-only afterwards.
type Graph struct {
	Nodes      map[unit.ID]*Node     // unit -> node
	Deps       map[unit.ID][]unit.ID // consumer -> dependencies (outgoing edges)
	Dependents map[unit.ID][]unit.ID // dependency -> consumers (incoming edges)
	order      []unit.ID             // insertion order, for deterministic iteration
	edges      map[Edge]bool
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:      make(map[unit.ID]*Node),
		Deps:       make(map[unit.ID][]unit.ID),
		Dependents: make(map[unit.ID][]unit.ID),
		edges:      make(map[Edge]bool),
	}
}

// AddNode adds a unit node to the graph.
// If node is nil, a new node with default values is created.
// Adding an existing unit replaces its node but keeps its position.
func (g *Graph) AddNode(id unit.ID, node *Node) {
	if node == nil {
		node = &Node{}
	}
	node.ID = id
	if _, exists := g.Nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.Nodes[id] = node
}

// AddEdge adds a consumer -> dependency relationship to the graph.
// It also maintains the reverse mapping. Duplicate edges are ignored.
func (g *Graph) AddEdge(consumer, dependency unit.ID) {
	edge := Edge{From: consumer, To: dependency}
	if g.edges[edge] {
		return
	}
	g.edges[edge] = true
	g.Deps[consumer] = append(g.Deps[consumer], dependency)
	g.Dependents[dependency] = append(g.Dependents[dependency], consumer)
}

// GetDeps returns the direct dependencies of a unit.
func (g *Graph) GetDeps(id unit.ID) []unit.ID {
	return g.Deps[id]
}

// GetDependents returns the units that directly depend on id.
func (g *Graph) GetDependents(id unit.ID) []unit.ID {
	return g.Dependents[id]
}

// GetNode returns the node for a given unit, or nil if not found.
func (g *Graph) GetNode(id unit.ID) *Node {
	return g.Nodes[id]
}

// HasNode returns true if the graph contains the unit.
func (g *Graph) HasNode(id unit.ID) bool {
	_, exists := g.Nodes[id]
	return exists
}

// HasEdge reports whether consumer directly depends on dependency.
func (g *Graph) HasEdge(consumer, dependency unit.ID) bool {
	return g.edges[Edge{From: consumer, To: dependency}]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AllNodes returns every unit in insertion order.
func (g *Graph) AllNodes() []unit.ID {
	return append([]unit.ID(nil), g.order...)
}

// AllEdges returns every edge, grouped by consumer in insertion order.
func (g *Graph) AllEdges() []Edge {
	var edges []Edge
	for _, id := range g.order {
		for _, dep := range g.Deps[id] {
			edges = append(edges, Edge{From: id, To: dep})
		}
	}
	return edges
}

// LeafNodes returns all units without dependencies, in insertion order.
func (g *Graph) LeafNodes() []unit.ID {
	var leaves []unit.ID
	for _, id := range g.order {
		if len(g.Deps[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// RootNodes returns the units cargo was asked to build, in insertion order.
func (g *Graph) RootNodes() []unit.ID {
	var roots []unit.ID
	for _, id := range g.order {
		if g.Nodes[id].IsRoot {
			roots = append(roots, id)
		}
	}
	return roots
}

// InDegree returns the number of units depending on id.
func (g *Graph) InDegree(id unit.ID) int {
	return len(g.Dependents[id])
}

// OutDegree returns the number of dependencies of id.
func (g *Graph) OutDegree(id unit.ID) int {
	return len(g.Deps[id])
}

// ExternName returns the crate name consumer uses for its dependency dep:
// the unit graph's extern name, else the dependency's target name.
func (g *Graph) ExternName(consumer, dep unit.ID) string {
	if node := g.Nodes[consumer]; node != nil {
		if name, ok := node.ExternNames[dep]; ok {
			return name
		}
	}
	if node := g.Nodes[dep]; node != nil && node.Target != "" {
		return unit.NormalizeName(node.Target)
	}
	return dep.Name
}

// DependencyNamed resolves a dependency name as cargo prints it in a
// fingerprint or a dirty reason to one of consumer's dependencies. Extern
// names are tried first, then target and package names.
func (g *Graph) DependencyNamed(consumer unit.ID, name string) (unit.ID, bool) {
	name = unit.NormalizeName(name)
	deps := g.Deps[consumer]
	for _, dep := range deps {
		if unit.NormalizeName(g.ExternName(consumer, dep)) == name {
			return dep, true
		}
	}
	for _, dep := range deps {
		if node := g.Nodes[dep]; node != nil && unit.NormalizeName(node.Target) == name {
			return dep, true
		}
	}
	for _, dep := range deps {
		if dep.Name == name {
			return dep, true
		}
	}
	return unit.ID{}, false
}

// Induced returns the subgraph restricted to ids: those nodes, in the order
// given, and every edge between them. Units absent from g are skipped.
// Nodes are shared with g.
func (g *Graph) Induced(ids []unit.ID) *Graph {
	sub := NewGraph()
	for _, id := range ids {
		if node, ok := g.Nodes[id]; ok && !sub.HasNode(id) {
			sub.order = append(sub.order, id)
			sub.Nodes[id] = node
		}
	}
	for _, id := range sub.order {
		for _, dep := range g.Deps[id] {
			if sub.HasNode(dep) {
				sub.AddEdge(id, dep)
			}
		}
	}
	return sub
}
