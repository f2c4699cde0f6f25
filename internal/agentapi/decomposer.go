package agentapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/pkg/models"
)

// decompositionPrompt is the prompt template for request decomposition.
const decompositionPrompt = `Break this code-generation request into tasks sized for a single agent each.

Request:
%s

Requirements:
%s

Constraints:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "tasks": [
    {
      "id": "short-slug",
      "type": "implementation|tdd_implementation|test_generation|documentation|refactoring|optimization",
      "description": "Detailed task description",
      "complexity": "trivial|simple|medium|complex|very_complex",
      "dependencies": ["id of dependency"],
      "priority": 5
    }
  ],
  "shared_context": {
    "language": "go",
    "architecture_pattern": "",
    "project_structure": "",
    "quality_requirements": [],
    "security_requirements": []
  }
}

Guidelines:
- Tasks should be as independent as possible to allow parallel execution
- Only add dependencies when truly necessary
- Each task should be completable by a single agent in one session
- Priority is 1-10; higher means more urgent`

// decomposedTask is the JSON structure returned by the model for one task.
type decomposedTask struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Complexity   string   `json:"complexity"`
	Dependencies []string `json:"dependencies"`
	Priority     int      `json:"priority"`
}

// decomposedContext is the JSON structure for the shared context.
type decomposedContext struct {
	Language             string   `json:"language"`
	ArchitecturePattern  string   `json:"architecture_pattern"`
	ProjectStructure     string   `json:"project_structure"`
	QualityRequirements  []string `json:"quality_requirements"`
	SecurityRequirements []string `json:"security_requirements"`
}

type decompositionResponse struct {
	Tasks         []decomposedTask  `json:"tasks"`
	SharedContext decomposedContext `json:"shared_context"`
}

// Decomposer implements collab.Decomposer over the Anthropic API. It uses
// the most capable model; decomposition quality bounds everything downstream.
type Decomposer struct {
	client *Client
}

// NewDecomposer creates a Decomposer backed by client.
func NewDecomposer(client *Client) *Decomposer {
	return &Decomposer{client: client}
}

var _ collab.Decomposer = (*Decomposer)(nil)

// Decompose prompts the model to break the request into tasks, parses the
// structured response, and resolves dependency references.
func (d *Decomposer) Decompose(ctx context.Context, description string, requirements, constraints []string) (*collab.DecomposeResult, error) {
	prompt := fmt.Sprintf(decompositionPrompt, description, bulletList(requirements), bulletList(constraints))

	response, err := d.client.complete(ctx, anthropic.ModelClaudeOpus4_5_20251101,
		"You are a technical planner decomposing software work into parallelizable tasks.", prompt)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("decomposition request: %w", err))
	}

	return parseDecomposition(response)
}

// parseDecomposition parses the model's JSON response into a DecomposeResult.
func parseDecomposition(response string) (*collab.DecomposeResult, error) {
	jsonStr, err := extractJSON(response, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}

	var parsed decompositionResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal decomposition: %w", err)
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	// Map the model's slugs onto unique IDs for dependency resolution.
	slugToID := make(map[string]string, len(parsed.Tasks))
	tasks := make([]*models.Task, len(parsed.Tasks))
	for i, dt := range parsed.Tasks {
		// First occurrence of a slug owns it; duplicates get fresh IDs and
		// dependency references keep resolving to the first.
		id := dt.ID
		if id == "" || slugToID[id] != "" {
			id = uuid.New().String()[:8]
		} else {
			slugToID[id] = id
		}

		taskType := models.TaskType(dt.Type)
		if taskType == "" {
			taskType = models.TaskTypeImplementation
		}
		complexity := models.Complexity(dt.Complexity)
		if !complexity.Valid() {
			complexity = models.ComplexityMedium
		}
		priority := dt.Priority
		if priority < 1 || priority > 10 {
			priority = 5
		}

		tasks[i] = &models.Task{
			ID:          id,
			Type:        taskType,
			Description: dt.Description,
			Complexity:  complexity,
			Priority:    priority,
		}
	}

	for i, dt := range parsed.Tasks {
		for _, depSlug := range dt.Dependencies {
			depID, ok := slugToID[depSlug]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for task %q", depSlug, dt.ID)
			}
			tasks[i].Dependencies = append(tasks[i].Dependencies, depID)
		}
	}

	shared := &models.SharedContext{
		Language:             parsed.SharedContext.Language,
		ArchitecturePattern:  parsed.SharedContext.ArchitecturePattern,
		ProjectStructure:     parsed.SharedContext.ProjectStructure,
		QualityRequirements:  parsed.SharedContext.QualityRequirements,
		SecurityRequirements: parsed.SharedContext.SecurityRequirements,
	}

	return &collab.DecomposeResult{Tasks: tasks, SharedContext: shared}, nil
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	out := ""
	for _, item := range items {
		out += "- " + item + "\n"
	}
	return out
}
