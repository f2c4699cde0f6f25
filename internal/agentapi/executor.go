package agentapi

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/pkg/models"
)

// tierModels maps execution tiers to Claude models, cheapest to most capable.
var tierModels = map[models.Tier]anthropic.Model{
	models.TierScout:     anthropic.ModelClaude3_5Haiku20241022,
	models.TierBuilder:   anthropic.ModelClaudeSonnet4_5_20250929,
	models.TierArchitect: anthropic.ModelClaudeOpus4_5_20251101,
}

// TierOverride replaces the default model or token cap for one tier.
// Zero-valued fields keep the defaults.
type TierOverride struct {
	Model     string
	MaxTokens int64
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithTierOverrides applies per-tier model and token-cap overrides, typically
// loaded from tier policy files.
func WithTierOverrides(overrides map[models.Tier]TierOverride) ExecutorOption {
	return func(e *Executor) { e.overrides = overrides }
}

// Executor implements collab.AgentExecutor over the Anthropic API.
// Execution is stateless per call, so retrying the same task, tier, and
// context is safe.
type Executor struct {
	client    *Client
	overrides map[models.Tier]TierOverride
}

// NewExecutor creates an Executor backed by client.
func NewExecutor(client *Client, opts ...ExecutorOption) *Executor {
	e := &Executor{client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ collab.AgentExecutor = (*Executor)(nil)

// Execute runs the task on the given tier and returns its result. API
// failures come back as transient errors so the caller's retry policy and
// circuit breaker treat them as connectivity-class.
func (e *Executor) Execute(ctx context.Context, task *models.Task, tier models.Tier, shared *models.SharedContext) (*models.TaskResult, error) {
	model, ok := tierModels[tier]
	if !ok {
		model = tierModels[models.TierBuilder]
	}
	var maxTokens int64
	if override, ok := e.overrides[tier]; ok {
		if override.Model != "" {
			model = anthropic.Model(override.Model)
		}
		maxTokens = override.MaxTokens
	}

	start := time.Now()
	output, err := e.client.completeTokens(ctx, model, maxTokens, systemPrompt(shared), taskPrompt(task, shared))
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("agent execution: %w", err))
	}

	result := &models.TaskResult{
		TaskID:               task.ID,
		Status:               models.ResultCompleted,
		OutputType:           outputTypeFor(task.Type),
		Output:               output,
		ExecutionTimeSeconds: time.Since(start).Seconds(),
		AgentTierUsed:        tier,
	}

	if lang, ok := task.LanguageConstraint(); ok && !mentionsLanguage(output, lang) {
		result.SetMeta(models.ResultMetaLanguageMismatch, "true")
	}

	return result, nil
}

// systemPrompt builds the system instruction from the shared context.
func systemPrompt(shared *models.SharedContext) string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer producing production-quality output for one task in a larger workflow.\n")
	if shared == nil {
		return b.String()
	}
	if shared.Language != "" {
		fmt.Fprintf(&b, "Implementation language: %s. Do not use any other language.\n", shared.Language)
	}
	if shared.ArchitecturePattern != "" {
		fmt.Fprintf(&b, "Architecture pattern: %s.\n", shared.ArchitecturePattern)
	}
	if len(shared.QualityRequirements) > 0 {
		fmt.Fprintf(&b, "Quality requirements: %s.\n", strings.Join(shared.QualityRequirements, "; "))
	}
	if len(shared.SecurityRequirements) > 0 {
		fmt.Fprintf(&b, "Security requirements: %s.\n", strings.Join(shared.SecurityRequirements, "; "))
	}
	return b.String()
}

// taskPrompt builds the per-task instruction payload.
func taskPrompt(task *models.Task, shared *models.SharedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task (%s, complexity %s):\n%s\n", task.Type, task.Complexity, task.Description)
	if lang, ok := task.LanguageConstraint(); ok {
		fmt.Fprintf(&b, "\nOutput language constraint: %s\n", lang)
	}
	if task.TDDRequired() {
		b.WriteString("\nWrite the tests first, then the implementation that satisfies them.\n")
	}
	if shared != nil && shared.ProjectStructure != "" {
		fmt.Fprintf(&b, "\nProject structure:\n%s\n", shared.ProjectStructure)
	}
	return b.String()
}

// outputTypeFor maps a task type to the expected result payload type.
func outputTypeFor(t models.TaskType) models.OutputType {
	switch t {
	case models.TaskTypeTestGeneration:
		return models.OutputTests
	case models.TaskTypeDocumentation:
		return models.OutputDocumentation
	default:
		return models.OutputCode
	}
}

// mentionsLanguage is a cheap check that the output plausibly targets the
// constrained language: a fenced block tagged with it, or its name as a
// whole word. Substring matches would fire on almost anything for short
// names like "go" or "c".
func mentionsLanguage(output, language string) bool {
	lower := strings.ToLower(output)
	lang := strings.ToLower(language)
	if strings.Contains(lower, "```"+lang) {
		return true
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		// '+' and '#' stay attached so "c++" and "c#" survive as words.
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	for _, w := range words {
		if w == lang {
			return true
		}
	}
	return false
}
