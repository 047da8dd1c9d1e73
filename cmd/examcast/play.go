package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/audio"
	"github.com/jmylchreest/examcast/internal/cache"
	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
	"github.com/jmylchreest/examcast/internal/playback"
)

var playCmd = &cobra.Command{
	Use:   "play ID",
	Short: "Play one announcement now",
	Long: `Play the announcement of a scheduled event and wait for it to finish.

The ID is an event ID or a 1-based index as shown by "examcast list".
Cached audio is used when the network is unavailable or --offline is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var toneCmd = &cobra.Command{
	Use:   "tone",
	Short: "Play the test tone of the selected library",
	Long: `Play the tuning music of the selected library, for checking speakers
and volume before an exam.`,
	Args: cobra.NoArgs,
	RunE: runTone,
}

func init() {
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(toneCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	events := eventStore.Events()

	sel := parseDmenuSelection(args[0])
	e := core.LookupByID(events, sel)
	if e == nil {
		if idx, err := strconv.Atoi(sel); err == nil {
			e = core.LookupByIndex(events, idx)
		}
	}
	if e == nil {
		return fmt.Errorf("event %s not found", args[0])
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Playing %s: %s\n", e.Subject, e.Label())
	return playOnce(playback.KindPrimary, e.ID, e.AudioFile)
}

func runTone(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	url, err := cat.Resolve(model.CueTuning, selectedLibrary(cat))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Playing test tone, press Ctrl+C to stop")
	return playOnce(playback.KindTone, "", url)
}

// playOnce plays url on a private engine and blocks until it ends, fails or
// the user interrupts.
func playOnce(kind playback.Kind, eventID, url string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := cache.NewHTTPFetcher()
	c, err := openCache(fetcher)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	device := audio.NewDevice(fetcher, logger)
	defer device.Close()

	engine := playback.NewEngine(device, playback.Options{
		LoadTimeout: cfg.Playback.LoadTimeout.Duration(),
		Volume:      cfg.VolumeFraction(),
		Muted:       cfg.Audio.Muted,
		Offline:     offlineMode(),
		Logger:      logger,
		Resolver:    c,
	})
	defer engine.Close()

	if kind == playback.KindTone {
		err = engine.PlayTone(ctx, url)
	} else {
		err = engine.Play(ctx, eventID, url)
	}
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			engine.StopAll()
			return nil
		case ev, ok := <-engine.Events():
			if !ok {
				return errors.New("playback stopped")
			}
			switch ev.Type {
			case playback.EventEnded:
				return nil
			case playback.EventError:
				if ev.Err == nil {
					return errors.New(ev.Cause.Message())
				}
				return fmt.Errorf("%s: %w", ev.Cause.Message(), ev.Err)
			}
		}
	}
}
