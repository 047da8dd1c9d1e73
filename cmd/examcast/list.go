package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/adapter/output"
	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

var listOpts struct {
	// Filter options
	subject  string
	cue      string
	upcoming bool
	filter   string
	search   string
	limit    int

	// Sort options
	sortBy    string
	sortOrder string

	// Output options
	format   string
	field    string
	template string
	showFile bool
}

var listCmd = &cobra.Command{
	Use:     "list [index|id]",
	Aliases: []string{"ls"},
	Short:   "List scheduled events",
	Long: `List scheduled announcements in various formats.

With an index (1-based) or ID argument, outputs that specific event.

Examples:
  # Everything, earliest first
  examcast list

  # Upcoming cues of one exam
  examcast list --upcoming --subject Math

  # Filter expression
  examcast list --filter "cue=exam_end,time>-1h"

  # Pick an event with a launcher and print its audio
  examcast list -f dmenu | fuzzel -d | examcast list --field audio`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	// Filter flags
	listCmd.Flags().StringVar(&listOpts.subject, "subject", "",
		"Filter by subject (exact match)")
	listCmd.Flags().StringVar(&listOpts.cue, "cue", "",
		"Filter by cue (slug or label)")
	listCmd.Flags().BoolVarP(&listOpts.upcoming, "upcoming", "u", false,
		"Only events that have not happened yet")
	listCmd.Flags().StringVar(&listOpts.filter, "filter", "",
		"Filter expression (e.g., subject=math,time>-1h)")
	listCmd.Flags().StringVarP(&listOpts.search, "search", "s", "",
		"Search in subject, label and message")
	listCmd.Flags().IntVarP(&listOpts.limit, "limit", "n", 0,
		"Maximum number of events to show (0=unlimited)")

	// Sort flags
	listCmd.Flags().StringVar(&listOpts.sortBy, "sort", "",
		"Sort by field (time, subject, cue)")
	listCmd.Flags().StringVar(&listOpts.sortOrder, "order", "",
		"Sort order (asc, desc)")

	// Output flags
	listCmd.Flags().StringVarP(&listOpts.format, "format", "f", "",
		"Output format (plain, dmenu, json, yaml, ids)")
	listCmd.Flags().StringVar(&listOpts.field, "field", "",
		"Output single field from an event (id, subject, cue, time, audio, message)")
	listCmd.Flags().StringVar(&listOpts.template, "template", "",
		"Custom Go template for dmenu output")
	listCmd.Flags().BoolVar(&listOpts.showFile, "show-file", false,
		"Show the audio file name in plain output")
}

func runList(cmd *cobra.Command, args []string) error {
	events := eventStore.Events()

	// A picker selection piped back in
	if len(args) == 0 && listOpts.field != "" && !isatty.IsTerminal(os.Stdin.Fd()) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read selection: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return errors.New("no selection on standard input")
		}
		args = []string{line}
	}

	if len(args) > 0 {
		return handleLookup(cmd, events, args[0])
	}

	events, err := applyFilters(events)
	if err != nil {
		return err
	}
	applySort(events)

	if len(events) == 0 {
		logger.Debug("no events to output")
		return nil
	}

	if format := listFormat(); format == output.FormatPlain {
		if date, ok := core.ExamDate(events); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Exam date: %s\n\n", date.Format("Monday 2 January 2006"))
		}
	}

	return createFormatter().Format(cmd.OutOrStdout(), events)
}

// applyFilters applies filter options to events.
func applyFilters(events []model.ExamEvent) ([]model.ExamEvent, error) {
	opts := core.FilterOptions{
		Subject:  listOpts.subject,
		Upcoming: listOpts.upcoming,
	}

	if listOpts.cue != "" {
		cue, ok := model.ParseCue(listOpts.cue)
		if !ok {
			return nil, fmt.Errorf("unknown cue %q", listOpts.cue)
		}
		opts.Cue = cue
	}

	events = core.Filter(events, opts)

	if listOpts.filter != "" {
		expr, err := core.ParseFilter(listOpts.filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		events = core.FilterWithExpr(events, expr, time.Now())
	}

	if listOpts.search != "" {
		events = core.Search(events, listOpts.search)
	}

	if listOpts.limit > 0 && len(events) > listOpts.limit {
		events = events[:listOpts.limit]
	}

	return events, nil
}

// applySort sorts events based on options, falling back to config defaults.
func applySort(events []model.ExamEvent) {
	sortBy := listOpts.sortBy
	if sortBy == "" {
		sortBy = cfg.List.SortField
	}
	sortOrder := listOpts.sortOrder
	if sortOrder == "" {
		sortOrder = cfg.List.SortOrder
	}

	field, _ := core.ParseSortField(sortBy)
	order, _ := core.ParseSortOrder(sortOrder)

	core.Sort(events, core.SortOptions{
		Field: field,
		Order: order,
	})
}

// handleLookup outputs a single event by 1-based index, ID or dmenu line.
func handleLookup(cmd *cobra.Command, events []model.ExamEvent, arg string) error {
	var e *model.ExamEvent

	sel := parseDmenuSelection(arg)
	if idx, err := strconv.Atoi(sel); err == nil && idx > 0 {
		// Index into the same view the list showed
		filtered, err := applyFilters(events)
		if err != nil {
			return err
		}
		applySort(filtered)
		e = core.LookupByIndex(filtered, idx)
		if e == nil {
			return fmt.Errorf("event at index %d not found", idx)
		}
	} else {
		e = core.LookupByID(events, sel)
		if e == nil {
			return fmt.Errorf("event with ID %s not found", sel)
		}
	}

	if listOpts.field != "" {
		fmt.Fprintln(cmd.OutOrStdout(), output.FormatField(e, listOpts.field))
		return nil
	}

	// JSON by default for a single event
	format := listFormat()
	if format == output.FormatDmenu || format == output.FormatPlain {
		format = output.FormatJSON
	}
	return output.NewFormatter(format, formatterOptions(format)).Format(cmd.OutOrStdout(), []model.ExamEvent{*e})
}

// parseDmenuSelection extracts the index from a dmenu line such as
// "3 | 09:00 Math: Exam start (in 2h)", or returns the input unchanged.
func parseDmenuSelection(selection string) string {
	selection = strings.TrimSpace(selection)

	if !strings.Contains(selection, " ") && !strings.Contains(selection, "|") {
		return selection
	}

	parts := strings.SplitN(selection, "|", 2)
	idxStr := strings.TrimSpace(parts[0])
	if idx, err := strconv.Atoi(idxStr); err == nil && idx > 0 {
		return idxStr
	}

	return selection
}

func listFormat() output.FormatType {
	format := listOpts.format
	if format == "" {
		format = cfg.List.Format
	}
	switch strings.ToLower(format) {
	case "json":
		return output.FormatJSON
	case "yaml", "yml":
		return output.FormatYAML
	case "ids":
		return output.FormatIDs
	case "dmenu":
		return output.FormatDmenu
	default:
		return output.FormatPlain
	}
}

func formatterOptions(format output.FormatType) output.FormatterOptions {
	opts := output.DefaultFormatterOptions()
	opts.Template = listOpts.template
	opts.ShowFile = listOpts.showFile

	// The configured template only applies to dmenu output
	if opts.Template == "" && format == output.FormatDmenu {
		opts.Template = cfg.List.Template
	}
	return opts
}

// createFormatter creates the output formatter based on options.
func createFormatter() output.Formatter {
	format := listFormat()
	return output.NewFormatter(format, formatterOptions(format))
}
