package agentapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/pkg/models"
)

// validationPrompt is the prompt template for code validation.
const validationPrompt = `Validate the following generated code against its task.

Task (%s, complexity %s):
%s

Expected language: %s

Code:
%s

Return ONLY a JSON object (no other text):
{
  "status": "passed|failed|needs_review",
  "confidence": 0.0,
  "findings": [{"severity": "info|warning|critical", "message": "", "location": ""}]
}

Judge correctness against the task description, syntactic plausibility in the
expected language, and obvious security problems. Use "failed" only for code
that clearly does not do what the task asks.`

type validationResponse struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Findings   []struct {
		Severity string `json:"severity"`
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"findings"`
}

// Validator implements collab.Validator over the Anthropic API.
type Validator struct {
	client *Client
}

// NewValidator creates a Validator backed by client.
func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

var _ collab.Validator = (*Validator)(nil)

// Validate scores generated code for the task.
func (v *Validator) Validate(ctx context.Context, code, language string, task *models.Task) (*collab.ValidationReport, error) {
	if language == "" {
		language = "unspecified"
	}
	prompt := fmt.Sprintf(validationPrompt, task.Type, task.Complexity, task.Description, language, code)

	response, err := v.client.complete(ctx, anthropic.ModelClaudeSonnet4_5_20250929,
		"You are a strict code reviewer scoring generated code. Answer only with the requested JSON.", prompt)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("validation request: %w", err))
	}

	return parseValidation(response)
}

// parseValidation parses the model's JSON verdict, clamping unknown statuses
// and out-of-range confidence to needs-review territory.
func parseValidation(response string) (*collab.ValidationReport, error) {
	jsonStr, err := extractJSON(response, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("parse validation response: %w", err)
	}
	var parsed validationResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal validation: %w", err)
	}

	status := collab.ValidationStatus(parsed.Status)
	switch status {
	case collab.ValidationPassed, collab.ValidationFailed, collab.ValidationNeedsReview:
	default:
		status = collab.ValidationNeedsReview
	}
	confidence := parsed.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0.5
	}

	report := &collab.ValidationReport{Status: status, ConfidenceScore: confidence}
	for _, f := range parsed.Findings {
		report.Findings = append(report.Findings, collab.Finding{
			Severity: f.Severity,
			Message:  f.Message,
			Location: f.Location,
		})
	}
	return report, nil
}
