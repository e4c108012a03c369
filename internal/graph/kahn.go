package graph

import (
	"container/list"
	"errors"
	"fmt"
	"strings"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

// ErrGraphInconsistent is returned when the unit graph cannot support root
// cause attribution: a rebuilt unit is missing from it, or it has a cycle.
var ErrGraphInconsistent = errors.New("unit graph inconsistent")

// ErrCycleDetected is returned when the dependency graph contains a cycle,
// making topological sorting impossible.
var ErrCycleDetected = fmt.Errorf("%w: cycle detected in dependency graph", ErrGraphInconsistent)

// ProcessingQueue wraps a list-based queue for Kahn's algorithm processing.
// It holds units whose dependencies have all been processed.
type ProcessingQueue struct {
	queue *list.List
}

// NewProcessingQueue creates a new empty processing queue.
func NewProcessingQueue() *ProcessingQueue {
	return &ProcessingQueue{
		queue: list.New(),
	}
}

// Enqueue adds a unit to the back of the queue.
func (pq *ProcessingQueue) Enqueue(id unit.ID) {
	pq.queue.PushBack(id)
}

// Dequeue removes and returns the unit at the front of the queue.
// Returns the zero ID and false if queue is empty.
func (pq *ProcessingQueue) Dequeue() (unit.ID, bool) {
	if pq.queue.Len() == 0 {
		return unit.ID{}, false
	}
	elem := pq.queue.Front()
	pq.queue.Remove(elem)
	return elem.Value.(unit.ID), true
}

// Len returns the number of units in the queue.
func (pq *ProcessingQueue) Len() int {
	return pq.queue.Len()
}

// IsEmpty returns true if the queue has no units.
func (pq *ProcessingQueue) IsEmpty() bool {
	return pq.queue.Len() == 0
}

// PendingDeps computes, for each unit, the number of dependencies that must
// be processed before it. This is the first step of Kahn's algorithm.
func (g *Graph) PendingDeps() map[unit.ID]int {
	pending := make(map[unit.ID]int, len(g.Nodes))
	for _, id := range g.order {
		pending[id] = len(g.Deps[id])
	}
	return pending
}

// initializeQueue creates a queue holding every unit without pending
// dependencies, in insertion order.
func (g *Graph) initializeQueue(pending map[unit.ID]int) *ProcessingQueue {
	pq := NewProcessingQueue()
	for _, id := range g.order {
		if pending[id] == 0 {
			pq.Enqueue(id)
		}
	}
	return pq
}

// kahn runs Kahn's algorithm and returns the processed units in order.
func (g *Graph) kahn() []unit.ID {
	pending := g.PendingDeps()
	queue := g.initializeQueue(pending)

	result := make([]unit.ID, 0, len(g.Nodes))
	for !queue.IsEmpty() {
		id, _ := queue.Dequeue()
		result = append(result, id)

		// A dependent becomes ready once its last dependency is done.
		for _, dependent := range g.GetDependents(id) {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue.Enqueue(dependent)
			}
		}
	}
	return result
}

// CycleInfo contains information about incomplete processing due to cycles.
type CycleInfo struct {
	TotalNodes        int       // Total number of units in the graph
	ProcessedNodes    int       // Number of units successfully processed
	UnprocessedNodes  []unit.ID // Units that couldn't be processed (part of or blocked by cycle)
	CycleParticipants []unit.ID // Units that are actually part of a cycle
	CyclePath         []unit.ID // Ordered path showing the cycle (e.g., [A, B, C, A])
}

// CycleError represents a cycle detection error with detailed information about
// which units are involved and which are blocked by the cycle.
type CycleError struct {
	Info *CycleInfo
}

// Error implements the error interface with a descriptive message that includes
// the units in the cycle and any units blocked by the cycle.
func (e *CycleError) Error() string {
	msg := fmt.Sprintf("cycle detected in dependency graph: %d of %d units could not be processed",
		len(e.Info.UnprocessedNodes), e.Info.TotalNodes)

	if len(e.Info.CyclePath) > 0 {
		msg += fmt.Sprintf("\nCycle path: %s", joinIDs(e.Info.CyclePath, " -> "))
	}

	if len(e.Info.CycleParticipants) > 0 {
		msg += fmt.Sprintf("\nUnits in cycle: %s", joinIDs(e.Info.CycleParticipants, ", "))
	}

	if len(e.Info.UnprocessedNodes) > len(e.Info.CycleParticipants) {
		participantSet := make(map[unit.ID]bool)
		for _, p := range e.Info.CycleParticipants {
			participantSet[p] = true
		}

		var blocked []unit.ID
		for _, u := range e.Info.UnprocessedNodes {
			if !participantSet[u] {
				blocked = append(blocked, u)
			}
		}

		if len(blocked) > 0 {
			msg += fmt.Sprintf("\nUnits blocked by cycle: %s", joinIDs(blocked, ", "))
		}
	}

	return msg
}

// Unwrap makes errors.Is(err, ErrCycleDetected) and
// errors.Is(err, ErrGraphInconsistent) hold for cycle errors.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

func joinIDs(ids []unit.ID, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, sep)
}

// DetectIncompleteProcessing runs Kahn's algorithm and returns information
// about any units that couldn't be processed. If all units are processed,
// returns nil (no cycle).
func (g *Graph) DetectIncompleteProcessing() *CycleInfo {
	processed := make(map[unit.ID]bool)
	for _, id := range g.kahn() {
		processed[id] = true
	}

	if len(processed) == len(g.Nodes) {
		return nil
	}

	var unprocessed []unit.ID
	unprocessedSet := make(map[unit.ID]bool)
	for _, id := range g.order {
		if !processed[id] {
			unprocessed = append(unprocessed, id)
			unprocessedSet[id] = true
		}
	}

	var cycleParticipants []unit.ID
	for _, id := range unprocessed {
		if g.canReachSelf(id, unprocessedSet) {
			cycleParticipants = append(cycleParticipants, id)
		}
	}

	var cyclePath []unit.ID
	if len(cycleParticipants) > 0 {
		cyclePath = g.FindCyclePath(cycleParticipants[0], unprocessedSet)
	}

	return &CycleInfo{
		TotalNodes:        len(g.Nodes),
		ProcessedNodes:    len(processed),
		UnprocessedNodes:  unprocessed,
		CycleParticipants: cycleParticipants,
		CyclePath:         cyclePath,
	}
}

// HasCycle returns true if the dependency graph contains a cycle.
func (g *Graph) HasCycle() bool {
	return g.DetectIncompleteProcessing() != nil
}

// FindCyclePath finds the path that forms a cycle starting from the given unit,
// following dependency edges. The start unit appears at both ends.
func (g *Graph) FindCyclePath(start unit.ID, allowed map[unit.ID]bool) []unit.ID {
	visited := make(map[unit.ID]bool)
	path := []unit.ID{start}

	if g.dfsFindPath(start, start, visited, allowed, &path) {
		return path
	}

	return nil
}

func (g *Graph) dfsFindPath(current, target unit.ID, visited, allowed map[unit.ID]bool, path *[]unit.ID) bool {
	for _, dep := range g.GetDeps(current) {
		if !allowed[dep] {
			continue
		}

		if dep == target {
			*path = append(*path, target)
			return true
		}

		if visited[dep] {
			continue
		}

		visited[dep] = true
		*path = append(*path, dep)

		if g.dfsFindPath(dep, target, visited, allowed, path) {
			return true
		}

		// Backtrack
		*path = (*path)[:len(*path)-1]
	}

	return false
}

// canReachSelf checks if a unit can reach itself through the subgraph
// defined by allowed.
func (g *Graph) canReachSelf(start unit.ID, allowed map[unit.ID]bool) bool {
	visited := make(map[unit.ID]bool)
	return g.dfsCanReach(start, start, visited, allowed, true)
}

func (g *Graph) dfsCanReach(current, target unit.ID, visited, allowed map[unit.ID]bool, isStart bool) bool {
	if current == target && !isStart {
		return true
	}
	if visited[current] || !allowed[current] {
		return false
	}

	visited[current] = true

	for _, dep := range g.GetDeps(current) {
		if g.dfsCanReach(dep, target, visited, allowed, false) {
			return true
		}
	}

	return false
}

// TopologicalSort returns units in topological order using Kahn's algorithm:
// every unit comes after all of its dependencies. Ties follow insertion order.
// Returns a *CycleError if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]unit.ID, error) {
	result := g.kahn()
	if len(result) != len(g.Nodes) {
		return nil, &CycleError{Info: g.DetectIncompleteProcessing()}
	}
	return result, nil
}

// BuildOrder returns the order in which cargo can compile the units.
func (g *Graph) BuildOrder() ([]unit.ID, error) {
	return g.TopologicalSort()
}

// Validate checks the graph for structural issues such as cycles.
// This should be called after building the graph to fail fast
// rather than discovering issues during diagnosis.
func (g *Graph) Validate() error {
	if cycleInfo := g.DetectIncompleteProcessing(); cycleInfo != nil {
		return &CycleError{Info: cycleInfo}
	}
	return nil
}
