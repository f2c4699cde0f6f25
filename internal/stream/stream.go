// Package stream publishes per-batch workflow progress: an append-only
// progress log for subscribers plus a single latest-status record for O(1)
// polling reads. Publishing never blocks the workflow's critical path: a
// streaming failure is logged and swallowed, not propagated.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// publishTimeout bounds how long a progress write may hold up the engine.
const publishTimeout = 5 * time.Second

// ProgressEntry is one progress-log record.
type ProgressEntry struct {
	// WorkflowID identifies the run.
	WorkflowID string `json:"workflow_id"`
	// BatchIndex is the zero-based batch just finished.
	BatchIndex int `json:"batch_index"`
	// TotalBatches is the planned batch count.
	TotalBatches int `json:"total_batches"`
	// Results are the batch's task results.
	Results []*models.TaskResult `json:"results"`
	// Status is the engine status string at publish time.
	Status string `json:"status"`
	// Timestamp is when the entry was published.
	Timestamp time.Time `json:"timestamp"`
}

// Backend is the storage the streamer writes to: an append-only stream and
// a latest-value key.
type Backend interface {
	Append(ctx context.Context, stream string, entry []byte) error
	SetLatest(ctx context.Context, key string, value []byte) error
	GetLatest(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Streamer publishes workflow progress to a Backend.
type Streamer struct {
	backend Backend
}

// NewStreamer creates a Streamer on backend.
func NewStreamer(backend Backend) *Streamer {
	return &Streamer{backend: backend}
}

// Publish writes a progress-log entry and updates the latest-status record.
// Errors are logged and dropped: observability must not become a liveness
// hazard for the run.
func (s *Streamer) Publish(ctx context.Context, entry ProgressEntry) {
	if s == nil || s.backend == nil {
		return
	}
	entry.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[stream] marshal progress for %s: %v", entry.WorkflowID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.backend.Append(ctx, streamName(entry.WorkflowID), payload); err != nil {
		log.Printf("[stream] append progress for %s: %v", entry.WorkflowID, err)
	}
	if err := s.backend.SetLatest(ctx, latestKey(entry.WorkflowID), payload); err != nil {
		log.Printf("[stream] set latest for %s: %v", entry.WorkflowID, err)
	}
}

// Latest returns the most recent progress entry for a workflow, or nil if
// none has been published.
func (s *Streamer) Latest(ctx context.Context, workflowID string) (*ProgressEntry, error) {
	payload, err := s.backend.GetLatest(ctx, latestKey(workflowID))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var entry ProgressEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func streamName(workflowID string) string { return "workflow:" + workflowID + ":progress" }
func latestKey(workflowID string) string  { return "workflow:" + workflowID + ":latest" }
