package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine"
)

var (
	runWorkflowID   string
	runRequirements []string
	runConstraints  []string
	runPushRemote   string
	runPushBranch   string
	runQuiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run a code-generation workflow",
	Long: `Run a full workflow from a natural-language request: decompose it into
tasks, execute them in dependency-ordered batches, and assemble the accepted
results into an artifact.

Progress is checkpointed between batches; an interrupted run can be
continued with 'loom resume <workflow-id>'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&runWorkflowID, "id", "", "Workflow ID (generated when empty)")
	runCmd.Flags().StringArrayVar(&runRequirements, "requirement", nil, "Acceptance requirement (repeatable)")
	runCmd.Flags().StringArrayVar(&runConstraints, "constraint", nil, "Constraint on generated code (repeatable)")
	runCmd.Flags().StringVar(&runPushRemote, "push-remote", "", "Git remote URL to publish the artifact to")
	runCmd.Flags().StringVar(&runPushBranch, "push-branch", "", "Branch for the published artifact")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the final report")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	workflowID := runWorkflowID
	if workflowID == "" {
		workflowID = "wf-" + uuid.New().String()[:8]
	}

	req := engine.WorkflowRequest{
		WorkflowID:   workflowID,
		Description:  strings.Join(args, " "),
		Requirements: runRequirements,
		Constraints:  runConstraints,
	}
	if runPushRemote != "" {
		req.Publish = &collab.RepoConfig{RemoteURL: runPushRemote, Branch: runPushBranch}
	}

	done := consumeEvents(rt.emitter, runQuiet)

	fmt.Printf("Workflow %s\n", color.CyanString(workflowID))
	report, err := rt.engine.Execute(ctx, req)

	rt.emitter.Close()
	<-done

	if err != nil {
		if report != nil {
			printReport(report)
		}
		return err
	}

	printReport(report)
	if report.Status != engine.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

// consumeEvents drains engine events onto the terminal until the emitter
// closes. Returns a channel closed when draining finishes.
func consumeEvents(emitter *engine.EventEmitter, quiet bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range emitter.Events() {
			if quiet {
				continue
			}
			switch ev.Type {
			case engine.EventWorkflowDecomposed:
				printStatus("•", "decomposed into "+ev.Message, color.FgCyan)
			case engine.EventBatchStarted:
				printStatus("•", fmt.Sprintf("batch %d started (%s)", ev.BatchIndex+1, ev.Message), color.FgCyan)
			case engine.EventTaskStarted:
				printStatus("▶", "task "+ev.TaskID+" started", color.FgWhite)
			case engine.EventTaskCompleted:
				printStatus("✓", "task "+ev.TaskID+" completed", color.FgGreen)
			case engine.EventTaskFailed:
				printStatus("✗", "task "+ev.TaskID+" "+ev.Message, color.FgRed)
			case engine.EventTaskSkipped:
				printStatus("⤼", "task "+ev.TaskID+" skipped: "+ev.Message, color.FgYellow)
			}
		}
	}()
	return done
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func printReport(report *engine.WorkflowReport) {
	fmt.Println()
	statusColor := color.FgGreen
	switch report.Status {
	case engine.StatusFailed, engine.StatusCancelled:
		statusColor = color.FgRed
	case engine.StatusPartiallyCompleted:
		statusColor = color.FgYellow
	}
	fmt.Printf("Status: %s\n", color.New(statusColor).Sprint(report.Status))
	fmt.Printf("Tasks: %d completed, %d failed, %d skipped\n",
		len(report.CompletedTaskIDs), len(report.FailedTaskIDs), len(report.SkippedTaskIDs))
	if report.ArtifactID != "" {
		fmt.Printf("Artifact: %s (%d files)\n", report.ArtifactID, len(report.FileManifest))
	}
	if report.PublishedURL != "" {
		fmt.Printf("Published: %s\n", report.PublishedURL)
	}
	for _, w := range report.Warnings {
		printStatus("⚠", w, color.FgYellow)
	}
	for _, id := range report.FailedTaskIDs {
		for _, r := range report.Results {
			if r.TaskID == id && r.Output != "" {
				fmt.Printf("  %s: %s\n", id, truncate(r.Output, 160))
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
