package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	loomsignal "github.com/loomhq/loom/internal/signal"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running workflow",
	Long: `Signal the workflow running in this directory to stop at the next batch
boundary. The engine persists a checkpoint before exiting, so the run can be
continued later with 'loom resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		mgr, err := loomsignal.NewManager(cwd)
		if err != nil {
			return fmt.Errorf("create signal manager: %w", err)
		}
		defer mgr.Close()

		if err := mgr.SendCancel(); err != nil {
			return fmt.Errorf("send cancel signal: %w", err)
		}
		fmt.Println("Cancel signal sent. The workflow stops at the next batch boundary.")
		return nil
	},
}
