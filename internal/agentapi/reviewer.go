package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/pkg/models"
)

// reviewPrompt is the prompt template for the review gate's second opinion.
const reviewPrompt = `Review this generated output before it is accepted into the deliverable.

Task (%s, complexity %s):
%s

Validation status: %s (confidence %.2f)
Validation findings:
%s

Output:
%s

Return ONLY a JSON object (no other text):
{"approved": true, "confidence": 0.0, "comments": ""}

Refuse anything that does not satisfy the task, anything with an unresolved
critical finding, and anything you would not merge yourself.`

type reviewResponse struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Comments   string  `json:"comments"`
}

// Reviewer implements collab.Reviewer over the Anthropic API using the most
// capable model; it only runs for flagged or low-confidence results.
type Reviewer struct {
	client *Client
}

// NewReviewer creates a Reviewer backed by client.
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

var _ collab.Reviewer = (*Reviewer)(nil)

// Review returns the reviewer's judgment of one result.
func (r *Reviewer) Review(ctx context.Context, task *models.Task, result *models.TaskResult, validation *collab.ValidationReport) (*collab.ReviewAssessment, error) {
	status := collab.ValidationNeedsReview
	confidence := 0.0
	findings := "(none)"
	if validation != nil {
		status = validation.Status
		confidence = validation.ConfidenceScore
		if len(validation.Findings) > 0 {
			var b strings.Builder
			for _, f := range validation.Findings {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Message)
			}
			findings = b.String()
		}
	}
	prompt := fmt.Sprintf(reviewPrompt, task.Type, task.Complexity, task.Description,
		status, confidence, findings, result.Output)

	response, err := r.client.complete(ctx, anthropic.ModelClaudeOpus4_5_20251101,
		"You are the final reviewer for generated code. Answer only with the requested JSON.", prompt)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("review request: %w", err))
	}

	return parseReview(response)
}

// parseReview parses the reviewer's JSON verdict.
func parseReview(response string) (*collab.ReviewAssessment, error) {
	jsonStr, err := extractJSON(response, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("parse review response: %w", err)
	}
	var parsed reviewResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal review: %w", err)
	}

	assessConfidence := parsed.Confidence
	if assessConfidence < 0 || assessConfidence > 1 {
		assessConfidence = 0.5
	}
	return &collab.ReviewAssessment{
		Approved:   parsed.Approved,
		Confidence: assessConfidence,
		Comments:   parsed.Comments,
	}, nil
}
