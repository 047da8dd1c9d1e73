package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/adapter/input"
	"github.com/jmylchreest/examcast/internal/schedule"
)

var importOpts struct {
	noCache bool
	replace bool
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import an exam timetable",
	Long: `Import an exam timetable and schedule its announcements.

The first line is the exam date, each following line one exam:

  2025.06.07
  Math 09:00 120min {distribute_papers,exam_start,exam_end}
  English 14:30 90min

Cues in braces are optional; without them every standard cue is scheduled.
Lines that cannot be parsed are skipped and reported. Use "-" to read
standard input, and "examcast sample" for a starting point.

Audio for the new events is cached before the command returns, unless
--no-cache is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importOpts.noCache, "no-cache", false,
		"Do not download audio for the imported events")
	importCmd.Flags().BoolVar(&importOpts.replace, "replace", false,
		"Replace existing events with the imported ones")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	adapter, err := input.NewAdapter(args[0], location())
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}

	logger.Debug("importing timetable", "source", adapter.Name(), "path", args[0])

	tt, err := adapter.Import(ctx)
	if err != nil {
		return fmt.Errorf("failed to import timetable: %w", err)
	}

	for _, skipped := range tt.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v: %s\n", skipped, skipped.Text)
	}

	added, err := scheduleExams(tt.Date, tt.Exams, !importOpts.noCache, importOpts.replace)
	if added == 0 && err != nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d events for %d exams on %s",
		added, len(tt.Exams), tt.Date.Format("2006-01-02"))
	if len(tt.Skipped) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d lines skipped)", len(tt.Skipped))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// scheduleExams generates and stores the events for exams on date.
// When warm is set the audio is cached before it returns. With replace the
// new events take the place of the stored ones, but only once at least one
// event was generated. Exams that could not be expanded are reported in the
// error alongside the added count.
func scheduleExams(date time.Time, exams []schedule.ExamSpec, warm, replace bool) (int, error) {
	cat, err := loadCatalog()
	if err != nil {
		return 0, err
	}

	gen := &schedule.Generator{
		Catalog:  cat,
		Library:  selectedLibrary(cat),
		Location: location(),
		Logger:   logger,
	}

	if warm {
		c, err := openCache(nil)
		if err != nil {
			logger.Warn("audio cache unavailable, skipping download", "error", err)
		} else {
			defer func() { _ = c.Close() }()
			// Close cancels unfinished warms, so wait first.
			defer c.Wait()
			gen.Warmer = c
		}
	}

	events, genErr := gen.Generate(date, exams)
	if len(events) == 0 {
		if genErr == nil {
			genErr = errors.New("no events generated")
		}
		return 0, genErr
	}

	save := eventStore.Add
	if replace {
		save = eventStore.Replace
	}
	if err := save(events); err != nil {
		return 0, fmt.Errorf("failed to save events: %w", err)
	}

	return len(events), genErr
}
