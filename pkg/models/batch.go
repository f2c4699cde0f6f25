package models

// ExecutionBatch is an ordered set of tasks whose dependencies were all
// resolved at planning time. No two tasks in the same batch depend on each
// other, directly or transitively, so the batch is safe to run concurrently.
type ExecutionBatch struct {
	// Index is the zero-based position of this batch in the plan.
	Index int `json:"index"`
	// Tasks are the member tasks, highest planning priority first.
	Tasks []*Task `json:"tasks"`
	// Recovery marks a single-task batch forced out of a dependency cycle.
	Recovery bool `json:"recovery,omitempty"`
}

// TaskIDs returns the member task IDs in batch order.
func (b *ExecutionBatch) TaskIDs() []string {
	ids := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// Size returns the number of tasks in the batch.
func (b *ExecutionBatch) Size() int {
	return len(b.Tasks)
}
