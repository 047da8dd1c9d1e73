package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/daemon"
	"github.com/jmylchreest/examcast/internal/tui"
)

var runOpts struct {
	tui bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the announcer",
	Long: `Run the announcer until interrupted.

Every second the schedule is checked and a cue that has just become due is
played. Audio for the schedule is cached in the background, the events file
and config are reloaded when they change, and the network is watched so
playback falls back to cached audio when offline.

With --tui a terminal dashboard shows the clock, the next cue with a
countdown, and the schedule. Key bindings:
  space/enter  Play or pause the selected cue
  n            Jump to the next cue
  t            Test tone
  s            Stop
  f            Fallback beep
  a            Toggle autoplay
  o            Toggle offline mode
  /            Filter the schedule
  ?            Show help
  q            Quit`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runOpts.tui, "tui", false,
		"Show the terminal dashboard")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runOpts.tui {
		// The dashboard owns the terminal.
		closeLog, err := logToFile()
		if err != nil {
			return err
		}
		defer closeLog()
	}

	d, err := daemon.New(daemon.Options{
		Config:       cfg,
		ConfigPath:   globalOpts.configPath,
		Store:        eventStore,
		EventsPath:   eventsPath,
		ForceOffline: globalOpts.offline,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start announcer: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("failed to shut down cleanly", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !runOpts.tui {
		return d.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	tuiErr := tui.Run(tui.RunOptions{
		Config:     cfg,
		Controller: d,
	})
	cancel()
	runErr := <-done

	return errors.Join(tuiErr, runErr)
}
