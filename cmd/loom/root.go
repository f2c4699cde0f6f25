package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Durable multi-step AI code generation",
	Long: `Loom turns a natural-language request into generated code through a
durable workflow: it decomposes the request into a task graph, executes
independent tasks concurrently on tiered models, validates and reviews every
output, and checkpoints between batches so interrupted runs resume where
they stopped.

Core capabilities:
- Decomposes requests into parallelizable tasks with dependencies
- Plans priority-ordered batches of independent tasks
- Executes under adaptive timeouts, retries, and a circuit breaker
- Gates low-confidence output behind review before acceptance
- Assembles accepted results into a publishable artifact`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
