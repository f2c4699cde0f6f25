package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine"
)

var resumeQuiet bool

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow-id>",
	Short: "Resume an interrupted workflow",
	Long: `Continue a checkpointed workflow. Tasks that already completed are not
re-executed; failed and unfinished tasks run again.

Checkpoints expire after their TTL (default 2h); an expired workflow must be
started over with 'loom run'.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeWorkflow,
}

func init() {
	resumeCmd.Flags().BoolVarP(&resumeQuiet, "quiet", "q", false, "Only print the final report")
}

func resumeWorkflow(cmd *cobra.Command, args []string) error {
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

	// A leftover cancel file from the interrupted run would stop the
	// resumed one immediately.
	rt.signals.Clear()

	workflowID := args[0]
	done := consumeEvents(rt.emitter, resumeQuiet)

	fmt.Printf("Resuming workflow %s\n", color.CyanString(workflowID))
	report, err := rt.engine.Resume(ctx, workflowID)

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
