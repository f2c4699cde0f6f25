// Package collab defines the contracts for the external collaborators the
// workflow engine consumes: decomposition, agent execution, moderation,
// validation, sandboxing, review, artifact assembly, and publishing. The
// engine depends only on these interfaces; concrete transports live behind
// them.
package collab

import (
	"context"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// Severity grades moderation findings from none to critical.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity name to its level, defaulting to none.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// DecomposeResult is the output of request decomposition.
type DecomposeResult struct {
	// Tasks are the units of work, in the decomposer's emission order.
	Tasks []*models.Task
	// Dependencies maps task ID to extra dependency edges beyond each
	// task's own Dependencies field.
	Dependencies map[string][]string
	// SharedContext is the cross-cutting record derived from the request.
	SharedContext *models.SharedContext
}

// Decomposer turns a natural-language request into a task graph.
type Decomposer interface {
	Decompose(ctx context.Context, description string, requirements, constraints []string) (*DecomposeResult, error)
}

// AgentExecutor runs a single task on a given tier. Implementations must be
// idempotent-safe to retry: re-running the same task, tier, and context is
// acceptable.
type AgentExecutor interface {
	Execute(ctx context.Context, task *models.Task, tier models.Tier, shared *models.SharedContext) (*models.TaskResult, error)
}

// ModerationResult is the output of a content check.
type ModerationResult struct {
	Severity    Severity
	Categories  []string
	Explanation string
}

// ModerationChecker scores text against content policy.
type ModerationChecker interface {
	Check(ctx context.Context, text string, checkContext string) (*ModerationResult, error)
}

// ValidationStatus summarizes a validation pass.
type ValidationStatus string

const (
	ValidationPassed      ValidationStatus = "passed"
	ValidationFailed      ValidationStatus = "failed"
	ValidationNeedsReview ValidationStatus = "needs_review"
)

// Finding is a single validation issue.
type Finding struct {
	// Severity is the finding grade ("info", "warning", "critical").
	Severity string
	// Message describes the issue.
	Message string
	// Location is an optional file:line reference within the output.
	Location string
}

// Critical returns true for findings that must block auto-approval.
func (f Finding) Critical() bool {
	return f.Severity == "critical"
}

// ValidationReport is the validator's assessment of generated code.
type ValidationReport struct {
	Status          ValidationStatus
	ConfidenceScore float64
	Findings        []Finding
}

// HasCriticalFinding returns true if any finding is critical.
func (r *ValidationReport) HasCriticalFinding() bool {
	for _, f := range r.Findings {
		if f.Critical() {
			return true
		}
	}
	return false
}

// Validator checks generated code against the task context.
type Validator interface {
	Validate(ctx context.Context, code, language string, task *models.Task) (*ValidationReport, error)
}

// SandboxResult is the outcome of executing code in a sandbox.
type SandboxResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// SandboxRunner executes generated code in isolation.
type SandboxRunner interface {
	Run(ctx context.Context, code, language string, inputs []string) (*SandboxResult, error)
}

// ReviewAssessment is the reviewer collaborator's judgment of one result.
type ReviewAssessment struct {
	Approved   bool
	Confidence float64
	Comments   string
}

// Reviewer is the AI-in-the-loop review collaborator consumed by the review
// gate for low-confidence or flagged results.
type Reviewer interface {
	Review(ctx context.Context, task *models.Task, result *models.TaskResult, validation *ValidationReport) (*ReviewAssessment, error)
}

// TaskResultPair couples a task with its result for assembly.
type TaskResultPair struct {
	Task   *models.Task
	Result *models.TaskResult
}

// Artifact identifies the assembled deliverable bundle.
type Artifact struct {
	ID           string
	FileManifest []string
}

// ArtifactAssembler builds the deliverable from completed task results.
type ArtifactAssembler interface {
	Assemble(ctx context.Context, pairs []TaskResultPair, shared *models.SharedContext) (*Artifact, error)
}

// RepoConfig targets a VCS push.
type RepoConfig struct {
	RemoteURL string
	Branch    string
}

// Publisher pushes an assembled artifact to an external VCS.
type Publisher interface {
	Push(ctx context.Context, artifactID string, repo RepoConfig) (url string, err error)
}
