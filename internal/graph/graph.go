// Package graph provides the task dependency graph and its ordering queries.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loomhq/loom/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task
// graph. Callers treat this as a warning: TopologicalOrder still returns a
// usable deterministic order so the run makes forward progress.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of task dependencies. Edges point from
// a task to the tasks it is blocked by.
type DependencyGraph struct {
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// order preserves task insertion order for the cycle fallback.
	order []string
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Task),
		edges: make(map[string][]string),
	}
}

// Build constructs the graph from a slice of tasks, using each task's
// declared Dependencies plus any extra edges in deps (decomposer output keeps
// these separate). Returns an error if a dependency references an unknown
// task. Cycles are NOT an error here; they surface from TopologicalOrder.
func (g *DependencyGraph) Build(tasks []*models.Task, deps map[string][]string) error {
	for _, task := range tasks {
		if _, dup := g.nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
		g.order = append(g.order, task.ID)
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if err := g.addEdge(task.ID, depID); err != nil {
				return err
			}
		}
		for _, depID := range deps[task.ID] {
			if err := g.addEdge(task.ID, depID); err != nil {
				return err
			}
		}
	}

	return nil
}

// addEdge records that taskID depends on depID, skipping duplicates.
func (g *DependencyGraph) addEdge(taskID, depID string) error {
	if _, exists := g.nodes[depID]; !exists {
		return fmt.Errorf("task %s depends on unknown task %s", taskID, depID)
	}
	for _, existing := range g.edges[taskID] {
		if existing == depID {
			return nil
		}
	}
	g.edges[taskID] = append(g.edges[taskID], depID)
	return nil
}

// TopologicalOrder returns task IDs such that every dependency appears
// before its dependents, computed with Kahn's algorithm (in-degree counting
// and a queue of zero-in-degree nodes). Ties are broken by insertion order
// so the result is deterministic.
//
// If the in-degree pass cannot place every node the graph has a cycle; the
// original insertion order is returned together with ErrCycleDetected so the
// caller can warn and still proceed.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	// in-degree here counts unresolved dependencies of each task.
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))

	for _, id := range g.order {
		inDegree[id] = len(g.edges[id])
		for _, depID := range g.edges[id] {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		next := dependents[id]
		sort.Strings(next)
		for _, depID := range next {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Cycle: fall back to insertion order, flagged for the caller.
		fallback := make([]string, len(g.order))
		copy(fallback, g.order)
		return fallback, ErrCycleDetected
	}

	return result, nil
}

// HasCycle reports whether the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	_, err := g.TopologicalOrder()
	return errors.Is(err, ErrCycleDetected)
}

// Ready returns the IDs of tasks whose dependency sets are subsets of done,
// excluding tasks already in done, in insertion order.
func (g *DependencyGraph) Ready(done map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if done[id] {
			continue
		}
		satisfied := true
		for _, depID := range g.edges[id] {
			if !done[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Dependencies returns the IDs the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	return g.edges[taskID]
}

// Dependents returns the IDs of tasks that depend on the given task,
// directly only.
func (g *DependencyGraph) Dependents(taskID string) []string {
	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// InsertionOrder returns the task IDs in the order they were added.
func (g *DependencyGraph) InsertionOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
