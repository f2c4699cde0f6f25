package agentapi

import (
	"strings"
	"testing"

	"github.com/loomhq/loom/pkg/models"
)

func TestParseDecomposition(t *testing.T) {
	response := "Here is the breakdown:\n```json\n" + `{
  "tasks": [
    {"id": "schema", "type": "implementation", "description": "Design the schema", "complexity": "complex", "dependencies": [], "priority": 8},
    {"id": "api", "type": "implementation", "description": "Build the API", "complexity": "medium", "dependencies": ["schema"], "priority": 6},
    {"id": "tests", "type": "test_generation", "description": "Write tests", "complexity": "simple", "dependencies": ["api"], "priority": 4}
  ],
  "shared_context": {
    "language": "go",
    "architecture_pattern": "hexagonal",
    "quality_requirements": ["80% coverage"]
  }
}` + "\n```\nLet me know if you need changes."

	result, err := parseDecomposition(response)
	if err != nil {
		t.Fatalf("parseDecomposition: %v", err)
	}
	if len(result.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(result.Tasks))
	}
	if result.Tasks[0].ID != "schema" || result.Tasks[0].Complexity != models.ComplexityComplex {
		t.Errorf("first task wrong: %+v", result.Tasks[0])
	}
	if len(result.Tasks[1].Dependencies) != 1 || result.Tasks[1].Dependencies[0] != "schema" {
		t.Errorf("dependency not resolved: %v", result.Tasks[1].Dependencies)
	}
	if result.SharedContext.Language != "go" || result.SharedContext.ArchitecturePattern != "hexagonal" {
		t.Errorf("shared context wrong: %+v", result.SharedContext)
	}
}

func TestParseDecompositionDefaults(t *testing.T) {
	response := `{"tasks": [{"id": "x", "description": "do it", "complexity": "impossible", "priority": 99}]}`
	result, err := parseDecomposition(response)
	if err != nil {
		t.Fatalf("parseDecomposition: %v", err)
	}
	task := result.Tasks[0]
	if task.Type != models.TaskTypeImplementation {
		t.Errorf("missing type must default to implementation, got %s", task.Type)
	}
	if task.Complexity != models.ComplexityMedium {
		t.Errorf("invalid complexity must default to medium, got %s", task.Complexity)
	}
	if task.Priority != 5 {
		t.Errorf("out-of-range priority must default to 5, got %d", task.Priority)
	}
}

func TestParseDecompositionDuplicateSlugs(t *testing.T) {
	response := `{"tasks": [
		{"id": "dup", "description": "first", "complexity": "simple"},
		{"id": "dup", "description": "second", "complexity": "simple"}
	]}`
	result, err := parseDecomposition(response)
	if err != nil {
		t.Fatalf("parseDecomposition: %v", err)
	}
	if result.Tasks[0].ID == result.Tasks[1].ID {
		t.Errorf("duplicate slugs must be disambiguated, got %s twice", result.Tasks[0].ID)
	}
}

func TestParseDecompositionDuplicateSlugDependencyResolvesToFirst(t *testing.T) {
	response := `{"tasks": [
		{"id": "dup", "description": "first", "complexity": "simple"},
		{"id": "dup", "description": "second", "complexity": "simple"},
		{"id": "c", "description": "third", "complexity": "simple", "dependencies": ["dup"]}
	]}`
	result, err := parseDecomposition(response)
	if err != nil {
		t.Fatalf("parseDecomposition: %v", err)
	}
	deps := result.Tasks[2].Dependencies
	if len(deps) != 1 || deps[0] != result.Tasks[0].ID {
		t.Errorf("dependency on a duplicated slug must resolve to the first task %s, got %v",
			result.Tasks[0].ID, deps)
	}
	if deps[0] == result.Tasks[1].ID {
		t.Errorf("dependency resolved to the later duplicate %s", result.Tasks[1].ID)
	}
}

func TestParseDecompositionUnknownDependency(t *testing.T) {
	response := `{"tasks": [{"id": "a", "description": "x", "complexity": "simple", "dependencies": ["ghost"]}]}`
	if _, err := parseDecomposition(response); err == nil {
		t.Fatal("unknown dependency must error")
	}
	if _, err := parseDecomposition(response); err != nil && !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error must name the missing dependency: %v", err)
	}
}

func TestParseDecompositionEmptyTasks(t *testing.T) {
	if _, err := parseDecomposition(`{"tasks": []}`); err == nil {
		t.Fatal("empty task list must error")
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON("noise before {\"a\": 1} noise after", "{", "}")
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"a": 1}` {
		t.Errorf("got %q", got)
	}

	if _, err := extractJSON("no json here", "{", "}"); err == nil {
		t.Fatal("missing JSON must error")
	}
	if _, err := extractJSON("} backwards {", "{", "}"); err == nil {
		t.Fatal("reversed delimiters must error")
	}
}
