package models

import (
	"time"
)

// TaskType classifies what kind of work a task represents.
// The decomposer is free to emit types outside this list; the planner and
// pipeline treat unrecognized types as plain implementation work.
type TaskType string

const (
	// TaskTypeImplementation is standard feature implementation work.
	TaskTypeImplementation TaskType = "implementation"
	// TaskTypeTDDImplementation is implementation driven by pre-written tests.
	TaskTypeTDDImplementation TaskType = "tdd_implementation"
	// TaskTypeTestGeneration produces tests for existing or planned code.
	TaskTypeTestGeneration TaskType = "test_generation"
	// TaskTypeDocumentation produces documentation output.
	TaskTypeDocumentation TaskType = "documentation"
	// TaskTypeRefactoring restructures existing code.
	TaskTypeRefactoring TaskType = "refactoring"
	// TaskTypeOptimization improves performance of existing code.
	TaskTypeOptimization TaskType = "optimization"
)

// Complexity represents the estimated difficulty of a task.
type Complexity string

const (
	// ComplexityTrivial is for one-liner or boilerplate changes.
	ComplexityTrivial Complexity = "trivial"
	// ComplexitySimple is for small, self-contained changes.
	ComplexitySimple Complexity = "simple"
	// ComplexityMedium is for standard implementation work.
	ComplexityMedium Complexity = "medium"
	// ComplexityComplex is for multi-file or design-heavy work.
	ComplexityComplex Complexity = "complex"
	// ComplexityVeryComplex is for meta or architecture-level work.
	ComplexityVeryComplex Complexity = "very_complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityVeryComplex:
		return true
	default:
		return false
	}
}

// Weight returns the scheduling weight for this complexity.
// Heavier tasks are front-loaded by the batch planner so their dependents
// unblock sooner.
func (c Complexity) Weight() int {
	switch c {
	case ComplexityVeryComplex:
		return 40
	case ComplexityComplex:
		return 30
	case ComplexityMedium:
		return 20
	case ComplexitySimple:
		return 10
	case ComplexityTrivial:
		return 5
	default:
		return 10
	}
}

// Metadata keys recognized by the pipeline and planner. Anything else in a
// task's metadata map is carried along but ignored.
const (
	// MetaTierOverride pins a task to a specific execution tier.
	MetaTierOverride = "tier_override"
	// MetaLanguage constrains the output language (e.g. "go", "python").
	MetaLanguage = "language"
	// MetaTDD marks the task as test-driven ("true"/"false").
	MetaTDD = "tdd"
	// MetaEstimatedDuration is a duration hint (Go duration string).
	MetaEstimatedDuration = "estimated_duration"
	// MetaSandboxRun requests a sandbox execution of the produced code.
	MetaSandboxRun = "sandbox_run"
)

// Task represents a unit of work produced by decomposition.
// Tasks are read-only during execution except for RetryCount, which the
// pipeline increments across attempts.
type Task struct {
	// ID is the unique identifier within a workflow run.
	ID string `json:"id"`
	// Type classifies the work (implementation, test_generation, ...).
	Type TaskType `json:"type"`
	// Description is the instruction text fed to the agent executor.
	Description string `json:"description"`
	// Complexity is the estimated difficulty.
	Complexity Complexity `json:"complexity"`
	// Dependencies lists task IDs that must be resolved before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority is 1-10; higher runs earlier when otherwise unconstrained.
	Priority int `json:"priority"`
	// Metadata is an open string map of task annotations. Recognized keys
	// are exposed through the typed accessors below.
	Metadata map[string]string `json:"metadata,omitempty"`
	// RetryCount is the number of execution attempts already made.
	RetryCount int `json:"retry_count,omitempty"`
}

// TierOverride returns the pinned tier from metadata, if present and valid.
func (t *Task) TierOverride() (Tier, bool) {
	v, ok := t.Metadata[MetaTierOverride]
	if !ok {
		return "", false
	}
	tier := Tier(v)
	if !tier.Valid() {
		return "", false
	}
	return tier, true
}

// LanguageConstraint returns the output language constraint, if present.
func (t *Task) LanguageConstraint() (string, bool) {
	v, ok := t.Metadata[MetaLanguage]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// TDDRequired returns true if the task is flagged as test-driven.
func (t *Task) TDDRequired() bool {
	return t.Metadata[MetaTDD] == "true"
}

// SandboxRequested returns true if the task requests a sandbox run.
func (t *Task) SandboxRequested() bool {
	return t.Metadata[MetaSandboxRun] == "true"
}

// EstimatedDuration returns the duration hint from metadata, if parseable.
func (t *Task) EstimatedDuration() (time.Duration, bool) {
	v, ok := t.Metadata[MetaEstimatedDuration]
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
