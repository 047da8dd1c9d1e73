package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearOpts struct {
	dryRun bool
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all scheduled events",
	Long: `Remove every scheduled event. A running announcer picks up the change.

Cached audio is kept; use "examcast cache prune" to reclaim space.`,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().BoolVar(&clearOpts.dryRun, "dry-run", false,
		"Show how many events would be removed without removing them")
}

func runClear(cmd *cobra.Command, args []string) error {
	count := eventStore.Count()
	if count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events scheduled")
		return nil
	}

	if clearOpts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would remove %d events\n", count)
		return nil
	}

	if err := eventStore.Clear(); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d events\n", count)
	return nil
}
