package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/pkg/models"
)

func pair(taskID string, outputType models.OutputType, output string) collab.TaskResultPair {
	return collab.TaskResultPair{
		Task:   &models.Task{ID: taskID, Type: models.TaskTypeImplementation},
		Result: &models.TaskResult{TaskID: taskID, Status: models.ResultCompleted, OutputType: outputType, Output: output},
	}
}

func TestAssembleWritesFilesAndManifest(t *testing.T) {
	a := NewAssembler(t.TempDir())
	shared := &models.SharedContext{Language: "go"}

	artifact, err := a.Assemble(context.Background(), []collab.TaskResultPair{
		pair("server", models.OutputCode, "package main"),
		pair("readme", models.OutputDocumentation, "# Server"),
	}, shared)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if artifact.ID == "" {
		t.Fatal("artifact must have an ID")
	}
	if len(artifact.FileManifest) != 2 {
		t.Fatalf("expected 2 files, got %v", artifact.FileManifest)
	}

	dir := a.Dir(artifact.ID)
	code, err := os.ReadFile(filepath.Join(dir, "server.go"))
	if err != nil {
		t.Fatalf("reading server.go: %v", err)
	}
	if string(code) != "package main" {
		t.Errorf("got %q", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "readme.md")); err != nil {
		t.Errorf("documentation must land as markdown: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var m struct {
		ArtifactID string   `json:"artifact_id"`
		Language   string   `json:"language"`
		Files      []string `json:"files"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}
	if m.ArtifactID != artifact.ID || m.Language != "go" || len(m.Files) != 2 {
		t.Errorf("manifest wrong: %+v", m)
	}
}

func TestAssembleUnknownLanguageFallsBack(t *testing.T) {
	a := NewAssembler(t.TempDir())
	artifact, err := a.Assemble(context.Background(), []collab.TaskResultPair{
		pair("thing", models.OutputCode, "whatever"),
	}, &models.SharedContext{Language: "cobol"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if artifact.FileManifest[0] != "thing.txt" {
		t.Errorf("unknown language must fall back to .txt, got %v", artifact.FileManifest)
	}
}

func TestAssembleEmpty(t *testing.T) {
	a := NewAssembler(t.TempDir())
	if _, err := a.Assemble(context.Background(), nil, nil); err == nil {
		t.Fatal("empty input must error")
	}
}

func TestAssembleCancelledContext(t *testing.T) {
	a := NewAssembler(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Assemble(ctx, []collab.TaskResultPair{pair("x", models.OutputCode, "y")}, nil); err == nil {
		t.Fatal("cancelled context must abort assembly")
	}
}
