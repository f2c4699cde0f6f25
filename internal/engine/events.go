// Package engine coordinates whole workflow runs: decomposition, batch
// planning, concurrent task execution, checkpointing, progress streaming,
// artifact assembly, and publishing.
package engine

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventWorkflowStarted indicates a workflow run has begun.
	EventWorkflowStarted EventType = "workflow_started"
	// EventWorkflowDecomposed indicates decomposition produced the task set.
	EventWorkflowDecomposed EventType = "workflow_decomposed"
	// EventBatchStarted indicates a batch has started executing.
	EventBatchStarted EventType = "batch_started"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task finished without accepted output.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was skipped without executing.
	EventTaskSkipped EventType = "task_skipped"
	// EventTaskHeartbeat provides periodic liveness updates for in-flight tasks.
	EventTaskHeartbeat EventType = "task_heartbeat"
	// EventWorkflowDone indicates the run reached a terminal status.
	EventWorkflowDone EventType = "workflow_done"
)

// Event represents an event emitted by the engine. Consumers (CLI output,
// progress displays) receive these over the emitter channel.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// WorkflowID is the run the event belongs to.
	WorkflowID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// BatchIndex is the zero-based batch number, for batch events.
	BatchIndex int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides a thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit delivers an event without ever blocking the engine. When the buffer
// is full, heartbeats are discarded immediately since the next one
// supersedes them; every other event gets a short grace window for the
// consumer to drain before it is dropped.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	if event.Type != EventTaskHeartbeat {
		grace := time.NewTimer(100 * time.Millisecond)
		defer grace.Stop()
		select {
		case e.events <- event:
			return
		case <-grace.C:
		}
	}

	count := e.droppedCount.Add(1)
	if count == 1 || count%50 == 0 {
		log.Printf("[engine] slow event consumer, %d events dropped so far (last: %s)", count, event.Type)
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call only after the engine has stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
