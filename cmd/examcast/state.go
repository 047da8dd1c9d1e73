package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/store"
)

var libraryCmd = &cobra.Command{
	Use:   "library [ID]",
	Short: "Show or select the announcement voice",
	Long: `Without arguments, list the available libraries and mark the selected one.
With an ID, select that library for events scheduled from now on. The test
tone of a running announcer switches immediately.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLibrary,
}

var offlineCmd = &cobra.Command{
	Use:   "offline [on|off]",
	Short: "Show or set offline mode",
	Long: `Offline mode plays audio from the cache only. A running announcer
picks up the change within a second.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runOffline,
}

var autoplayCmd = &cobra.Command{
	Use:   "autoplay [on|off]",
	Short: "Show or set automatic playback",
	Long: `With autoplay off a running announcer still counts down but plays nothing
unless asked. The change is picked up within a second.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runAutoplay,
}

func init() {
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(offlineCmd)
	rootCmd.AddCommand(autoplayCmd)
}

func runLibrary(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		id := args[0]
		if !cat.Has(id) {
			return fmt.Errorf("unknown library %q", id)
		}
		if err := updateSharedState(func(s *store.SharedState) { s.Library = id }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected library %s\n", id)
		return nil
	}

	selected := selectedLibrary(cat)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, lib := range cat.Libraries() {
		mark := " "
		if lib.ID == selected {
			mark = "*"
		}
		name := lib.Name
		if lib.ID == cat.Default() {
			name += " (default)"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%d cues\n", mark, lib.ID, name, len(lib.Cues))
	}
	return tw.Flush()
}

func runOffline(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Offline mode %s\n", onOff(offlineMode()))
		return nil
	}

	v, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	if err := updateSharedState(func(s *store.SharedState) { s.SetOffline(v) }); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Offline mode %s\n", onOff(v))
	return nil
}

func runAutoplay(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		v := loadSharedState().AutoplayOr(cfg.Schedule.Autoplay)
		fmt.Fprintf(cmd.OutOrStdout(), "Autoplay %s\n", onOff(v))
		return nil
	}

	v, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	if err := updateSharedState(func(s *store.SharedState) { s.SetAutoplay(v) }); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Autoplay %s\n", onOff(v))
	return nil
}

// updateSharedState applies update to the persisted state and saves it.
func updateSharedState(update func(*store.SharedState)) error {
	state, err := store.LoadSharedState()
	if err != nil {
		logger.Warn("failed to load shared state, starting fresh", "error", err)
		state = store.DefaultSharedState()
	}
	update(state)
	if err := store.SaveSharedState(state); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
