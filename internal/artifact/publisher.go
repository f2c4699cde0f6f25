package artifact

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/collab"
)

// GitPublisher implements collab.Publisher by committing an assembled
// artifact directory onto a branch and pushing it to the remote.
type GitPublisher struct {
	assembler *Assembler
}

// NewGitPublisher creates a publisher that resolves artifact IDs through the
// given assembler.
func NewGitPublisher(assembler *Assembler) *GitPublisher {
	return &GitPublisher{assembler: assembler}
}

var _ collab.Publisher = (*GitPublisher)(nil)

// Push clones the target repository, copies the artifact files onto the
// requested branch, commits, and pushes. Returns the remote branch URL.
func (p *GitPublisher) Push(ctx context.Context, artifactID string, repo collab.RepoConfig) (string, error) {
	srcDir := p.assembler.Dir(artifactID)
	if _, err := os.Stat(srcDir); err != nil {
		return "", fmt.Errorf("artifact %s not found: %w", artifactID, err)
	}
	branch := repo.Branch
	if branch == "" {
		branch = "loom/" + artifactID
	}

	workDir, err := os.MkdirTemp("", "loom-publish-")
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if _, err := p.git(ctx, workDir, "clone", "--depth", "1", repo.RemoteURL, "."); err != nil {
		return "", err
	}
	if _, err := p.git(ctx, workDir, "checkout", "-B", branch); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", fmt.Errorf("reading artifact directory: %w", err)
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("reading artifact file %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(workDir, entry.Name()), data, 0644); err != nil {
			return "", fmt.Errorf("copying artifact file %s: %w", entry.Name(), err)
		}
	}

	if _, err := p.git(ctx, workDir, "add", "."); err != nil {
		return "", err
	}
	message := fmt.Sprintf("Add generated artifact %s (%s)", artifactID, time.Now().UTC().Format("2006-01-02"))
	if _, err := p.git(ctx, workDir, "commit", "-m", message); err != nil {
		return "", err
	}
	if _, err := p.git(ctx, workDir, "push", "-u", "origin", branch); err != nil {
		return "", err
	}

	return repo.RemoteURL + "#" + branch, nil
}

// git executes a git command in dir and returns trimmed combined output.
func (p *GitPublisher) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}
