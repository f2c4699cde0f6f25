// Package review implements the gate that decides whether a task's result
// needs AI-in-the-loop review before being accepted, and runs that review.
package review

import (
	"context"
	"log"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/pkg/models"
)

// State is the review-gate state for one task result.
type State string

const (
	// StateNotRequired means the result passed without needing review.
	StateNotRequired State = "not_required"
	// StateRequired means review was triggered but has not concluded.
	StateRequired State = "required"
	// StateApproved means the reviewer accepted the result.
	StateApproved State = "approved"
	// StateRejected means the reviewer (or an unreachable reviewer) refused it.
	StateRejected State = "rejected"
	// StateAutoApproved means review is globally disabled.
	StateAutoApproved State = "auto_approved"
)

// Decision is the gate's verdict on one task result.
type Decision struct {
	// State records how the decision was reached.
	State State
	// Approved is the accept/refuse outcome.
	Approved bool
	// Confidence is the reviewer's confidence in the decision.
	Confidence float64
	// Comments carries reviewer feedback or the refusal reason.
	Comments string
}

// Config controls when the gate triggers and which reviewer it consults.
type Config struct {
	// Enabled toggles the review subsystem. When false every result is
	// auto-approved with full confidence.
	Enabled bool
	// ConfidenceThreshold triggers review when validation confidence falls
	// below it (default 0.7).
	ConfidenceThreshold float64
	// ForceReviewTiers marks execution tiers whose results always go through
	// review, regardless of validation confidence.
	ForceReviewTiers map[models.Tier]bool
}

// Gate evaluates task results against the review policy.
type Gate struct {
	cfg      Config
	reviewer collab.Reviewer
}

// NewGate creates a Gate. reviewer may be nil only when cfg.Enabled is false.
func NewGate(cfg Config, reviewer collab.Reviewer) *Gate {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	return &Gate{cfg: cfg, reviewer: reviewer}
}

// Required reports whether the result needs review: mandatory for
// very-complex tasks and critical validation findings, otherwise only when
// validation confidence is below the threshold.
func (g *Gate) Required(task *models.Task, validation *collab.ValidationReport) bool {
	if !g.cfg.Enabled {
		return false
	}
	if task.Complexity == models.ComplexityVeryComplex {
		return true
	}
	if validation == nil {
		return true
	}
	if validation.HasCriticalFinding() {
		return true
	}
	return validation.ConfidenceScore < g.cfg.ConfidenceThreshold
}

// Review runs the gate for one result. Disabled review short-circuits to
// auto-approval. An unreachable reviewer fails closed: low-confidence or
// flagged code must never pass silently because the reviewer is down.
func (g *Gate) Review(ctx context.Context, task *models.Task, result *models.TaskResult, validation *collab.ValidationReport) Decision {
	if !g.cfg.Enabled {
		return Decision{State: StateAutoApproved, Approved: true, Confidence: 1.0}
	}

	required := g.Required(task, validation)
	if !required && result != nil && g.cfg.ForceReviewTiers[result.AgentTierUsed] {
		required = true
	}
	if !required {
		return Decision{State: StateNotRequired, Approved: true, Confidence: validationConfidence(validation)}
	}

	if g.reviewer == nil {
		log.Printf("[review] no reviewer configured for required review of task %s, rejecting", task.ID)
		return Decision{State: StateRejected, Approved: false, Comments: "review required but no reviewer configured"}
	}

	assessment, err := g.reviewer.Review(ctx, task, result, validation)
	if err != nil {
		log.Printf("[review] reviewer error for task %s, failing closed: %v", task.ID, err)
		return Decision{State: StateRejected, Approved: false, Comments: "reviewer unreachable: " + err.Error()}
	}

	state := StateApproved
	if !assessment.Approved {
		state = StateRejected
	}
	return Decision{
		State:      state,
		Approved:   assessment.Approved,
		Confidence: assessment.Confidence,
		Comments:   assessment.Comments,
	}
}

func validationConfidence(validation *collab.ValidationReport) float64 {
	if validation == nil {
		return 0
	}
	return validation.ConfidenceScore
}
