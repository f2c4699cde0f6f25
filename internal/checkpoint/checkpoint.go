// Package checkpoint provides durable, crash-safe recording of per-workflow
// progress: completed task results plus the shared-context snapshot, keyed
// by workflow ID with overwrite semantics and a bounded TTL.
package checkpoint

import (
	"errors"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// ErrNotFound is returned by Load when no checkpoint exists for the ID.
var ErrNotFound = errors.New("checkpoint not found")

// DefaultTTL bounds how long an abandoned run's checkpoint survives.
const DefaultTTL = 2 * time.Hour

// Checkpoint is a durable snapshot of workflow progress. Re-saving with the
// same workflow ID replaces the previous snapshot, never appends.
type Checkpoint struct {
	// WorkflowID identifies the run.
	WorkflowID string `json:"workflow_id"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
	// Tasks is the decomposed task set, so a resumed run does not depend on
	// re-decomposition producing the same graph.
	Tasks []*models.Task `json:"tasks"`
	// Dependencies are the extra dependency edges beyond each task's own
	// Dependencies field.
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	// Results are the task results recorded so far, one per finished task.
	Results []*models.TaskResult `json:"results"`
	// SharedContext is the run's context snapshot at save time.
	SharedContext *models.SharedContext `json:"shared_context"`
	// Status is the engine status string at save time.
	Status string `json:"status"`
}

// ResultByTask indexes the checkpoint's results by task ID. Used on resume
// to skip tasks that already finished.
func (c *Checkpoint) ResultByTask() map[string]*models.TaskResult {
	out := make(map[string]*models.TaskResult, len(c.Results))
	for _, r := range c.Results {
		out[r.TaskID] = r
	}
	return out
}

// Store is the durable checkpoint backend. Save overwrites any existing
// snapshot for the same workflow ID. Load returns ErrNotFound for unknown
// or expired IDs.
type Store interface {
	Save(cp *Checkpoint, ttl time.Duration) error
	Load(workflowID string) (*Checkpoint, error)
	Delete(workflowID string) error
	PurgeExpired() (int64, error)
	Close() error
}
