package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/adapter/input"
	"github.com/jmylchreest/examcast/internal/schedule"
)

var addOpts struct {
	date     string
	start    string
	duration int
	cues     []string
	noCache  bool
}

var addCmd = &cobra.Command{
	Use:   "add SUBJECT",
	Short: "Schedule a single exam",
	Long: `Schedule the announcements for one exam.

Examples:
  # Standard cues for a two hour exam today
  examcast add Math --time 09:00 --duration 120

  # Only start and end on a given date
  examcast add Physics --date 2025.06.09 --time 14:30 --duration 90 \
      --cue exam_start --cue exam_end`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addOpts.date, "date", "",
		"Exam date as YYYY.MM.DD (default: today)")
	addCmd.Flags().StringVar(&addOpts.start, "time", "",
		"Start time as HH:MM")
	addCmd.Flags().IntVar(&addOpts.duration, "duration", 0,
		"Exam length in minutes")
	addCmd.Flags().StringSliceVar(&addOpts.cues, "cue", nil,
		"Cue to schedule, repeatable (default: all standard cues)")
	addCmd.Flags().BoolVar(&addOpts.noCache, "no-cache", false,
		"Do not download audio for the new events")

	_ = addCmd.MarkFlagRequired("time")
	_ = addCmd.MarkFlagRequired("duration")
}

func runAdd(cmd *cobra.Command, args []string) error {
	loc := location()

	date := time.Now().In(loc)
	if addOpts.date != "" {
		var err error
		date, err = input.ParseDate(addOpts.date, loc)
		if err != nil {
			return err
		}
	}

	spec := schedule.ExamSpec{
		Subject:  strings.TrimSpace(args[0]),
		Start:    addOpts.start,
		Duration: addOpts.duration,
		Cues:     addOpts.cues,
	}

	added, err := scheduleExams(date, []schedule.ExamSpec{spec}, !addOpts.noCache, false)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %d events for %s on %s\n",
		added, spec.Subject, date.Format("2006-01-02"))
	return nil
}
