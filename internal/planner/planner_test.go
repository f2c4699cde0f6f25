package planner

import (
	"testing"

	"github.com/loomhq/loom/internal/graph"
	"github.com/loomhq/loom/pkg/models"
)

func buildGraph(t *testing.T, tasks []*models.Task) *graph.DependencyGraph {
	t.Helper()
	g := graph.New()
	if err := g.Build(tasks, nil); err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func batchIDs(b models.ExecutionBatch) map[string]bool {
	out := make(map[string]bool, len(b.Tasks))
	for _, task := range b.Tasks {
		out[task.ID] = true
	}
	return out
}

func TestPlanDependentsInLaterBatches(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Type: models.TaskTypeImplementation, Complexity: models.ComplexitySimple},
		{ID: "b", Type: models.TaskTypeImplementation, Complexity: models.ComplexitySimple, Dependencies: []string{"a"}},
		{ID: "c", Type: models.TaskTypeImplementation, Complexity: models.ComplexitySimple, Dependencies: []string{"a"}},
	}
	batches := New(5).Plan(buildGraph(t, tasks))

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if !batchIDs(batches[0])["a"] || len(batches[0].Tasks) != 1 {
		t.Errorf("expected first batch to be exactly [a], got %v", batches[0].TaskIDs())
	}
	second := batchIDs(batches[1])
	if !second["b"] || !second["c"] {
		t.Errorf("expected b and c in second batch, got %v", batches[1].TaskIDs())
	}
}

func TestPlanEveryTaskExactlyOnce(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Complexity: models.ComplexityMedium},
		{ID: "b", Complexity: models.ComplexityMedium, Dependencies: []string{"a"}},
		{ID: "c", Complexity: models.ComplexityMedium, Dependencies: []string{"b"}},
		{ID: "d", Complexity: models.ComplexityMedium},
		{ID: "e", Complexity: models.ComplexityMedium, Dependencies: []string{"a", "d"}},
	}
	batches := New(5).Plan(buildGraph(t, tasks))

	seen := make(map[string]int)
	for _, b := range batches {
		for _, task := range b.Tasks {
			seen[task.ID]++
		}
	}
	if len(seen) != len(tasks) {
		t.Fatalf("expected %d planned tasks, got %d", len(tasks), len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s planned %d times", id, n)
		}
	}
}

func TestPlanRespectsBatchCap(t *testing.T) {
	var tasks []*models.Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		tasks = append(tasks, &models.Task{ID: id, Complexity: models.ComplexitySimple})
	}
	batches := New(3).Plan(buildGraph(t, tasks))

	total := 0
	for _, b := range batches {
		if b.Size() > 3 {
			t.Errorf("batch %d exceeds cap: %d tasks", b.Index, b.Size())
		}
		total += b.Size()
	}
	if total != len(tasks) {
		t.Errorf("expected %d tasks across batches, got %d", len(tasks), total)
	}
}

func TestPlanOrdersBatchByPriority(t *testing.T) {
	tasks := []*models.Task{
		{ID: "docs", Type: models.TaskTypeDocumentation, Complexity: models.ComplexityTrivial},
		{ID: "auth", Type: models.TaskTypeImplementation, Complexity: models.ComplexityComplex, Description: "auth middleware"},
		{ID: "misc", Type: models.TaskTypeImplementation, Complexity: models.ComplexitySimple},
	}
	batches := New(5).Plan(buildGraph(t, tasks))

	if len(batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(batches))
	}
	if batches[0].Tasks[0].ID != "auth" {
		t.Errorf("expected auth first (security bonus + complexity), got %s", batches[0].Tasks[0].ID)
	}
}

func TestPlanFanOutBoostsPriority(t *testing.T) {
	tasks := []*models.Task{
		{ID: "solo", Type: models.TaskTypeImplementation, Complexity: models.ComplexityMedium},
		{ID: "hub", Type: models.TaskTypeImplementation, Complexity: models.ComplexityMedium},
		{ID: "d1", Type: models.TaskTypeImplementation, Complexity: models.ComplexityMedium, Dependencies: []string{"hub"}},
		{ID: "d2", Type: models.TaskTypeImplementation, Complexity: models.ComplexityMedium, Dependencies: []string{"hub"}},
	}
	batches := New(5).Plan(buildGraph(t, tasks))

	if batches[0].Tasks[0].ID != "hub" {
		t.Errorf("expected hub first in batch (fan-out bonus), got %s", batches[0].Tasks[0].ID)
	}
}

func TestPlanRecoveryBatchOnCycle(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Complexity: models.ComplexityMedium, Dependencies: []string{"b"}},
		{ID: "b", Complexity: models.ComplexityMedium, Dependencies: []string{"a"}},
		{ID: "c", Complexity: models.ComplexityMedium},
	}
	batches := New(5).Plan(buildGraph(t, tasks))

	seen := make(map[string]bool)
	recoveries := 0
	for _, b := range batches {
		if b.Recovery {
			recoveries++
			if b.Size() != 1 {
				t.Errorf("recovery batch must hold exactly one task, got %d", b.Size())
			}
		}
		for _, task := range b.Tasks {
			seen[task.ID] = true
		}
	}
	if len(seen) != 3 {
		t.Fatalf("cycle must not lose tasks: planned %d of 3", len(seen))
	}
	if recoveries == 0 {
		t.Error("expected at least one recovery batch for the cycle")
	}
}

func TestPlanBatchIndexesSequential(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Complexity: models.ComplexityMedium},
		{ID: "b", Complexity: models.ComplexityMedium, Dependencies: []string{"a"}},
	}
	batches := New(5).Plan(buildGraph(t, tasks))
	for i, b := range batches {
		if b.Index != i {
			t.Errorf("batch %d has index %d", i, b.Index)
		}
	}
}
