package models

// ResultStatus is the terminal state of a single task execution.
type ResultStatus string

const (
	// ResultCompleted indicates the task produced accepted output.
	ResultCompleted ResultStatus = "completed"
	// ResultFailed indicates execution or validation failed.
	ResultFailed ResultStatus = "failed"
	// ResultTimeout indicates the adaptive timeout expired.
	ResultTimeout ResultStatus = "timeout"
	// ResultRejected indicates a review or content gate refused the output.
	ResultRejected ResultStatus = "rejected"
	// ResultSkipped indicates the task never executed (e.g. failed dependency).
	ResultSkipped ResultStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultCompleted, ResultFailed, ResultTimeout, ResultRejected, ResultSkipped:
		return true
	default:
		return false
	}
}

// OutputType classifies the payload carried by a TaskResult.
type OutputType string

const (
	// OutputCode is a language-tagged code blob.
	OutputCode OutputType = "code"
	// OutputTests is generated test code.
	OutputTests OutputType = "tests"
	// OutputDocumentation is documentation text.
	OutputDocumentation OutputType = "documentation"
	// OutputError is structured failure detail.
	OutputError OutputType = "error"
)

// Result metadata keys populated by the pipeline for diagnostics.
const (
	// ResultMetaCacheHit marks results served from a similarity cache.
	ResultMetaCacheHit = "cache_hit"
	// ResultMetaLanguageMismatch marks output in the wrong language.
	ResultMetaLanguageMismatch = "language_mismatch"
	// ResultMetaHAPSeverity records the moderation severity of the output.
	ResultMetaHAPSeverity = "hap_severity"
	// ResultMetaCircuitOpen marks failures caused by an open circuit rather
	// than the task itself.
	ResultMetaCircuitOpen = "circuit_open"
	// ResultMetaSkipReason records why a task was skipped without executing.
	ResultMetaSkipReason = "skip_reason"
)

// TaskResult records the outcome of a task. Exactly one TaskResult exists
// for every task that entered a batch, including failures; a missing result
// is a bug, not a representation of failure.
type TaskResult struct {
	// TaskID identifies the task this result belongs to.
	TaskID string `json:"task_id"`
	// Status is the terminal state of the execution.
	Status ResultStatus `json:"status"`
	// OutputType classifies Output.
	OutputType OutputType `json:"output_type"`
	// Output is the opaque payload: code blob or error detail.
	Output string `json:"output,omitempty"`
	// ExecutionTimeSeconds is wall-clock execution time.
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	// ConfidenceScore is the validation confidence in [0,1].
	ConfidenceScore float64 `json:"confidence_score"`
	// AgentTierUsed is the tier that produced the output.
	AgentTierUsed Tier `json:"agent_tier_used,omitempty"`
	// Metadata carries diagnostics (cache hit, language mismatch, severity).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Succeeded returns true if the result represents accepted output.
func (r *TaskResult) Succeeded() bool {
	return r.Status == ResultCompleted
}

// SetMeta records a diagnostic key, allocating the map on first use.
func (r *TaskResult) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}
