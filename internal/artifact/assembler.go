// Package artifact assembles completed task results into a deliverable
// bundle on disk and publishes bundles to a git remote.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/pkg/models"
)

// manifest is the bundle descriptor written alongside the assembled files.
type manifest struct {
	ArtifactID  string    `json:"artifact_id"`
	AssembledAt time.Time `json:"assembled_at"`
	Language    string    `json:"language,omitempty"`
	Files       []string  `json:"files"`
}

// Assembler implements collab.ArtifactAssembler by laying out each accepted
// result as a file under a per-artifact directory.
type Assembler struct {
	rootDir string
}

// NewAssembler creates an Assembler writing bundles under rootDir.
func NewAssembler(rootDir string) *Assembler {
	return &Assembler{rootDir: rootDir}
}

var _ collab.ArtifactAssembler = (*Assembler)(nil)

// Assemble writes the completed results into a new artifact directory and
// returns its identity with the file manifest.
func (a *Assembler) Assemble(ctx context.Context, pairs []collab.TaskResultPair, shared *models.SharedContext) (*collab.Artifact, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("nothing to assemble")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifactID := uuid.New().String()[:8]
	dir := filepath.Join(a.rootDir, artifactID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	var language string
	if shared != nil {
		language = shared.Language
	}

	var files []string
	for _, pair := range pairs {
		name := pair.Task.ID + extensionFor(pair.Result.OutputType, language)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(pair.Result.Output), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
		files = append(files, name)
	}
	sort.Strings(files)

	m := manifest{
		ArtifactID:  artifactID,
		AssembledAt: time.Now().UTC(),
		Language:    language,
		Files:       files,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	return &collab.Artifact{ID: artifactID, FileManifest: files}, nil
}

// Dir returns the on-disk directory for an artifact ID.
func (a *Assembler) Dir(artifactID string) string {
	return filepath.Join(a.rootDir, artifactID)
}

// extensionFor picks a file extension from the result payload type and the
// run's language.
func extensionFor(t models.OutputType, language string) string {
	switch t {
	case models.OutputDocumentation:
		return ".md"
	case models.OutputError:
		return ".err.txt"
	case models.OutputTests, models.OutputCode:
		if ext, ok := languageExtensions[language]; ok {
			return ext
		}
		return ".txt"
	default:
		return ".txt"
	}
}

var languageExtensions = map[string]string{
	"go":         ".go",
	"python":     ".py",
	"typescript": ".ts",
	"javascript": ".js",
	"rust":       ".rs",
	"java":       ".java",
	"ruby":       ".rb",
}
