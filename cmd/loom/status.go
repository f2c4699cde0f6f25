package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/checkpoint"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/stream"
	"github.com/loomhq/loom/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show workflow progress",
	Long: `Display the latest recorded state of a workflow: its last published
progress entry and the per-task results held in its checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	workflowID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.CheckpointDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No workflow state found. Run 'loom run <request>' to start.")
		return nil
	}

	store, err := checkpoint.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	cp, err := store.Load(workflowID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		// The checkpoint is deleted on completion; the stream may still
		// know the terminal status.
		return printLatestOnly(cfg, workflowID)
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	fmt.Printf("Workflow %s\n", color.CyanString(workflowID))
	fmt.Printf("Status: %s (checkpointed %s)\n", cp.Status, cp.Timestamp.Local().Format(time.RFC822))
	fmt.Printf("Tasks: %d total, %d with results\n\n", len(cp.Tasks), len(cp.Results))

	byTask := cp.ResultByTask()
	for _, t := range cp.Tasks {
		r, ok := byTask[t.ID]
		if !ok {
			printStatus("·", t.ID+" pending", color.FgWhite)
			continue
		}
		switch r.Status {
		case models.ResultCompleted:
			printStatus("✓", fmt.Sprintf("%s completed (%.0fs, tier %s)", t.ID, r.ExecutionTimeSeconds, r.AgentTierUsed), color.FgGreen)
		case models.ResultSkipped:
			printStatus("⤼", t.ID+" skipped: "+r.Metadata[models.ResultMetaSkipReason], color.FgYellow)
		default:
			printStatus("✗", fmt.Sprintf("%s %s", t.ID, r.Status), color.FgRed)
		}
	}
	return nil
}

func printLatestOnly(cfg *config.Config, workflowID string) error {
	backend, err := stream.OpenSQLite(streamDBPath(cfg))
	if err != nil {
		return fmt.Errorf("open stream backend: %w", err)
	}
	defer backend.Close()

	entry, err := stream.NewStreamer(backend).Latest(context.Background(), workflowID)
	if err != nil || entry == nil {
		fmt.Printf("No state recorded for workflow %s.\n", workflowID)
		return nil
	}
	fmt.Printf("Workflow %s\n", color.CyanString(workflowID))
	fmt.Printf("Status: %s (as of %s)\n", entry.Status, entry.Timestamp.Local().Format(time.RFC822))
	fmt.Printf("Recorded results: %d\n", len(entry.Results))
	return nil
}
