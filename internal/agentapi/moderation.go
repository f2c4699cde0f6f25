package agentapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
)

// moderationPrompt is the prompt template for content screening.
const moderationPrompt = `Assess the following %s for content policy concerns: requests for malware, credential theft, destructive automation, or other harmful code.

Text:
%s

Return ONLY a JSON object (no other text):
{"severity": "none|low|medium|high|critical", "categories": [], "explanation": ""}`

type moderationResponse struct {
	Severity    string   `json:"severity"`
	Categories  []string `json:"categories"`
	Explanation string   `json:"explanation"`
}

// Moderation implements collab.ModerationChecker over the Anthropic API
// using the cheapest model; screening runs on every request and every
// generated output.
type Moderation struct {
	client *Client
}

// NewModeration creates a Moderation checker backed by client.
func NewModeration(client *Client) *Moderation {
	return &Moderation{client: client}
}

var _ collab.ModerationChecker = (*Moderation)(nil)

// Check scores text against content policy. checkContext names what is
// being screened ("workflow_request", "generated_output").
func (m *Moderation) Check(ctx context.Context, text, checkContext string) (*collab.ModerationResult, error) {
	prompt := fmt.Sprintf(moderationPrompt, checkContext, text)

	response, err := m.client.complete(ctx, anthropic.ModelClaude3_5Haiku20241022,
		"You are a content policy classifier. Answer only with the requested JSON.", prompt)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("moderation request: %w", err))
	}

	return parseModeration(response)
}

// parseModeration parses the classifier's JSON verdict.
func parseModeration(response string) (*collab.ModerationResult, error) {
	jsonStr, err := extractJSON(response, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("parse moderation response: %w", err)
	}
	var parsed moderationResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal moderation: %w", err)
	}

	return &collab.ModerationResult{
		Severity:    collab.ParseSeverity(parsed.Severity),
		Categories:  parsed.Categories,
		Explanation: parsed.Explanation,
	}, nil
}
