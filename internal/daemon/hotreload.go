package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/store"
)

// DefaultReloadInterval is how often watched files are polled.
const DefaultReloadInterval = time.Second

// fileWatcher polls a file's modification time and calls onChange when it
// moves forward.
type fileWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger
	clock  clockwork.Clock
	name   string
	path   string

	lastModTime  time.Time
	pollInterval time.Duration
	onChange     func()

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

func newFileWatcher(name, path string, clock clockwork.Clock, logger *slog.Logger) *fileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &fileWatcher{
		logger:       logger,
		clock:        clock,
		name:         name,
		path:         path,
		pollInterval: DefaultReloadInterval,
	}
}

// setPollInterval sets the polling interval. It takes effect on start.
func (w *fileWatcher) setPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if interval > 0 {
		w.pollInterval = interval
	}
}

func (w *fileWatcher) start(ctx context.Context, onChange func()) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.onChange = onChange

	if info, err := os.Stat(w.path); err == nil {
		w.lastModTime = info.ModTime()
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stop, done, interval := w.stopCh, w.doneCh, w.pollInterval
	w.mu.Unlock()

	go w.watchLoop(ctx, stop, done, interval)

	w.logger.Debug(w.name+" watcher started", "path", w.path, "interval", interval)
}

func (w *fileWatcher) stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Debug(w.name + " watcher stopped")
}

func (w *fileWatcher) watchLoop(ctx context.Context, stop, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			w.check()
		}
	}
}

func (w *fileWatcher) check() {
	w.mu.RLock()
	callback := w.onChange
	lastModTime := w.lastModTime
	w.mu.RUnlock()

	info, err := os.Stat(w.path)
	if err != nil {
		// File might not exist yet or was deleted
		if !os.IsNotExist(err) {
			w.logger.Debug("failed to stat "+w.name+" file", "path", w.path, "error", err)
		}
		return
	}

	modTime := info.ModTime()
	if !modTime.After(lastModTime) {
		return
	}

	w.mu.Lock()
	w.lastModTime = modTime
	w.mu.Unlock()

	w.logger.Debug(w.name+" file changed", "path", w.path, "modTime", modTime)
	if callback != nil {
		callback()
	}
}

// StateWatcher applies runtime toggles written by `examcast autoplay`,
// `examcast offline` and `examcast library` to a running announcer.
type StateWatcher struct {
	*fileWatcher
	onChange func(*store.SharedState)
}

// NewStateWatcher creates a StateWatcher for the shared state file.
func NewStateWatcher(path string, clock clockwork.Clock, logger *slog.Logger) *StateWatcher {
	return &StateWatcher{fileWatcher: newFileWatcher("state", path, clock, logger)}
}

// SetPollInterval sets the polling interval.
func (w *StateWatcher) SetPollInterval(interval time.Duration) {
	w.setPollInterval(interval)
}

// Start begins polling; onChange receives the re-read state.
func (w *StateWatcher) Start(ctx context.Context, onChange func(*store.SharedState)) {
	w.start(ctx, func() {
		state, err := store.LoadSharedState()
		if err != nil {
			w.logger.Warn("failed to reload shared state", "error", err)
			return
		}
		onChange(state)
	})
}

// Stop stops polling.
func (w *StateWatcher) Stop() {
	w.stop()
}

// ConfigWatcher reloads and validates the config file when it changes.
type ConfigWatcher struct {
	*fileWatcher

	cmu     sync.RWMutex
	current *config.Config
}

// NewConfigWatcher creates a ConfigWatcher for path.
func NewConfigWatcher(path string, clock clockwork.Clock, logger *slog.Logger) *ConfigWatcher {
	if path == "" {
		path = config.ConfigPath()
	}
	return &ConfigWatcher{fileWatcher: newFileWatcher("config", path, clock, logger)}
}

// SetPollInterval sets the polling interval.
func (w *ConfigWatcher) SetPollInterval(interval time.Duration) {
	w.setPollInterval(interval)
}

// Start begins polling. onReload receives each valid new config; onError
// receives load or validation failures, and the previous config stays current.
func (w *ConfigWatcher) Start(ctx context.Context, initial *config.Config, onReload func(*config.Config), onError func(error)) {
	w.cmu.Lock()
	w.current = initial
	w.cmu.Unlock()

	w.start(ctx, func() {
		cfg, err := config.LoadConfig(w.path)
		if err != nil {
			w.logger.Warn("config file changed but validation failed", "error", err)
			if onError != nil {
				onError(err)
			}
			return
		}

		w.cmu.Lock()
		w.current = cfg
		w.cmu.Unlock()

		w.logger.Info("config reloaded")
		if onReload != nil {
			onReload(cfg)
		}
	})
}

// Stop stops polling.
func (w *ConfigWatcher) Stop() {
	w.stop()
}

// Current returns the last valid configuration.
func (w *ConfigWatcher) Current() *config.Config {
	w.cmu.RLock()
	defer w.cmu.RUnlock()
	return w.current
}
