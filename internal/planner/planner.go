// Package planner converts a task dependency graph into ordered execution
// batches of mutually independent tasks.
package planner

import (
	"log"
	"sort"
	"strings"

	"github.com/loomhq/loom/internal/graph"
	"github.com/loomhq/loom/pkg/models"
)

// DefaultMaxBatchSize caps batch width for resource predictability.
const DefaultMaxBatchSize = 5

// fanOutCap bounds the reverse-dependency contribution to planning priority.
const fanOutCap = 10

// Planner builds execution batches from a dependency graph.
type Planner struct {
	maxBatchSize int
}

// New creates a Planner with the given batch size cap. Non-positive values
// fall back to DefaultMaxBatchSize.
func New(maxBatchSize int) *Planner {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Planner{maxBatchSize: maxBatchSize}
}

// Plan produces ordered batches such that every task's dependencies sit in a
// strictly earlier batch. Readiness is resolved structurally: a task is
// "processed" once batched, regardless of how its execution later turns out.
//
// If no task is ready while tasks remain, the graph has a cycle; the next
// unprocessed task (insertion order) is forced into a single-task recovery
// batch so the plan always terminates.
func (p *Planner) Plan(g *graph.DependencyGraph) []models.ExecutionBatch {
	processed := make(map[string]bool, g.Size())
	var batches []models.ExecutionBatch

	for len(processed) < g.Size() {
		readyIDs := g.Ready(processed)

		if len(readyIDs) == 0 {
			forced := p.forceNextUnprocessed(g, processed)
			if forced == nil {
				break // Nothing left that we can even force; defensive exit.
			}
			log.Printf("[planner] dependency cycle: forcing task %s into a recovery batch", forced.ID)
			processed[forced.ID] = true
			batches = append(batches, models.ExecutionBatch{
				Index:    len(batches),
				Tasks:    []*models.Task{forced},
				Recovery: true,
			})
			continue
		}

		ready := make([]*models.Task, 0, len(readyIDs))
		for _, id := range readyIDs {
			ready = append(ready, g.Task(id))
		}

		sort.SliceStable(ready, func(i, j int) bool {
			pi, pj := p.priority(ready[i], g), p.priority(ready[j], g)
			if pi != pj {
				return pi > pj
			}
			return ready[i].ID < ready[j].ID
		})

		if len(ready) > p.maxBatchSize {
			ready = ready[:p.maxBatchSize]
		}

		for _, t := range ready {
			processed[t.ID] = true
		}
		batches = append(batches, models.ExecutionBatch{
			Index: len(batches),
			Tasks: ready,
		})
	}

	return batches
}

// forceNextUnprocessed returns the first unprocessed task in insertion order.
func (p *Planner) forceNextUnprocessed(g *graph.DependencyGraph, processed map[string]bool) *models.Task {
	for _, id := range g.InsertionOrder() {
		if !processed[id] {
			return g.Task(id)
		}
	}
	return nil
}

// priority computes the planning priority for a ready task:
// complexity weight + type bonus + capped fan-out + the task's own Priority
// field. Security and schema work is front-loaded so the tasks gated on it
// unblock sooner; test tasks are deferred slightly.
func (p *Planner) priority(t *models.Task, g *graph.DependencyGraph) int {
	score := t.Complexity.Weight()
	score += typeBonus(t)

	fanOut := 2 * len(g.Dependents(t.ID))
	if fanOut > fanOutCap {
		fanOut = fanOutCap
	}
	score += fanOut

	score += t.Priority
	return score
}

// typeBonus maps task type and description signals to a priority adjustment.
func typeBonus(t *models.Task) int {
	text := strings.ToLower(string(t.Type) + " " + t.Description)

	switch {
	case strings.Contains(text, "security"), strings.Contains(text, "auth"):
		return 15
	case strings.Contains(text, "database"), strings.Contains(text, "schema"):
		return 12
	case strings.Contains(text, "api"), strings.Contains(text, "endpoint"):
		return 8
	}

	if t.Type == models.TaskTypeTestGeneration {
		return -5
	}
	return 0
}
