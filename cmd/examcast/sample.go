package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/adapter/output"
)

var sampleCmd = &cobra.Command{
	Use:   "sample [FILE]",
	Short: "Write an example timetable",
	Long: `Write an example timetable in the import format, to FILE or standard output.

  examcast sample timetable.txt
  $EDITOR timetable.txt
  examcast import timetable.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || args[0] == "-" {
		return output.WriteSample(cmd.OutOrStdout())
	}

	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create sample: %w", err)
	}
	if err := output.WriteSample(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write sample: %w", err)
	}
	return f.Close()
}
