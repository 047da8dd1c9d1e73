package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/store"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		eventsFile string
		offline    bool
	}
	logger *slog.Logger

	// eventStore is the global store instance
	eventStore *store.Store
	eventsPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "examcast",
	Short: "Scheduled exam announcements",
	Long: `examcast plays recorded announcements at fixed offsets around exams:
paper distribution, exam start, reminders and exam end.

Import a timetable with "examcast import", then leave "examcast run" going
in the exam room. Audio is fetched ahead of time and cached locally so cues
still play when the network drops.

Running examcast without a subcommand starts the announcer with the
terminal dashboard.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		eventsPath = globalOpts.eventsFile
		if eventsPath == "" {
			eventsPath, err = store.EventsPath()
			if err != nil {
				logger.Warn("failed to resolve events path, events will not be saved", "error", err)
			}
		}

		// A store that cannot be persisted still works for this run.
		var persistence store.Persistence
		if eventsPath != "" {
			p, err := store.NewJSONLPersistence(eventsPath, logger)
			if err != nil {
				logger.Warn("failed to open events file, events will not be saved", "path", eventsPath, "error", err)
				eventsPath = ""
			} else {
				persistence = p
			}
		}
		eventStore = store.NewStore(persistence)

		if err := eventStore.Hydrate(); err != nil {
			logger.Warn("failed to hydrate store from disk", "error", err)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if eventStore != nil {
			return eventStore.Close()
		}
		return nil
	},
	// Default to the announcer with the dashboard
	RunE: func(cmd *cobra.Command, args []string) error {
		runOpts.tui = true
		return runRun(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/examcast/config.toml)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.eventsFile, "events-file", "",
		"Path to events file (default: ~/.local/share/examcast/events.jsonl)")
	rootCmd.PersistentFlags().BoolVar(&globalOpts.offline, "offline", false,
		"Play from the audio cache only")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// logToFile redirects logging to examcast.log in the data directory.
func logToFile() (func(), error) {
	dir, err := store.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "examcast.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return func() { _ = f.Close() }, nil
}
