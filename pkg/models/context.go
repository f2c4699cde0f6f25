package models

import (
	"sync"
)

// SharedContext is the per-run record of cross-cutting requirements derived
// once from the request. The core fields are immutable after creation; the
// progress log is append-only and guarded so the engine can record progress
// between batches. Pipelines receive a Snapshot, never the live value, so
// concurrent task execution is side-effect-free with respect to it.
type SharedContext struct {
	// Language is the detected or requested implementation language.
	Language string `json:"language"`
	// ArchitecturePattern is the detected architecture (e.g. "hexagonal").
	ArchitecturePattern string `json:"architecture_pattern,omitempty"`
	// ProjectStructure describes the intended repository layout.
	ProjectStructure string `json:"project_structure,omitempty"`
	// QualityRequirements are quality constraints to thread into every task.
	QualityRequirements []string `json:"quality_requirements,omitempty"`
	// SecurityRequirements are security constraints to thread into every task.
	SecurityRequirements []string `json:"security_requirements,omitempty"`
	// ValidationRequirements are validation constraints for the validator.
	ValidationRequirements []string `json:"validation_requirements,omitempty"`

	// Progress log. Append-only, owned by the engine between batches.
	CompletedTasks []string `json:"completed_tasks,omitempty"`
	CurrentPhase   string   `json:"current_phase,omitempty"`
	PatternsUsed   []string `json:"patterns_used,omitempty"`
	InsightsGained []string `json:"insights_gained,omitempty"`

	mu sync.Mutex
}

// RecordCompleted appends a task ID to the completed-tasks log.
func (c *SharedContext) RecordCompleted(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompletedTasks = append(c.CompletedTasks, taskID)
}

// SetPhase records the current workflow phase.
func (c *SharedContext) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentPhase = phase
}

// RecordPattern appends a pattern name to the patterns log.
func (c *SharedContext) RecordPattern(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PatternsUsed = append(c.PatternsUsed, pattern)
}

// RecordInsight appends an insight to the insights log.
func (c *SharedContext) RecordInsight(insight string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InsightsGained = append(c.InsightsGained, insight)
}

// Snapshot returns a deep copy safe to hand to a concurrently running
// pipeline. The copy carries no lock state and shares no slices.
func (c *SharedContext) Snapshot() *SharedContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &SharedContext{
		Language:               c.Language,
		ArchitecturePattern:    c.ArchitecturePattern,
		ProjectStructure:       c.ProjectStructure,
		QualityRequirements:    copyStrings(c.QualityRequirements),
		SecurityRequirements:   copyStrings(c.SecurityRequirements),
		ValidationRequirements: copyStrings(c.ValidationRequirements),
		CompletedTasks:         copyStrings(c.CompletedTasks),
		CurrentPhase:           c.CurrentPhase,
		PatternsUsed:           copyStrings(c.PatternsUsed),
		InsightsGained:         copyStrings(c.InsightsGained),
	}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
