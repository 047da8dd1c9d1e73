package audio

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPollInterval is how often watched files are checked.
const DefaultPollInterval = 2 * time.Second

// Invalidator drops a decoded sound.
type Invalidator interface {
	InvalidateCache(key string)
}

// Watcher polls local audio files and invalidates decoded copies when a
// file changes on disk. Sources served over HTTP are never watched.
type Watcher struct {
	mu     sync.RWMutex
	logger *slog.Logger
	target Invalidator
	clock  clockwork.Clock

	// Paths to watch with their last modification times
	watched map[string]time.Time

	pollInterval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewWatcher creates a watcher invalidating target.
func NewWatcher(target Invalidator, clock clockwork.Clock, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Watcher{
		logger:       logger,
		target:       target,
		clock:        clock,
		watched:      make(map[string]time.Time),
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval sets the polling interval. It takes effect on Start.
func (w *Watcher) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if interval > 0 {
		w.pollInterval = interval
	}
}

// Watch adds local paths to the watch list. Non-file sources are ignored.
func (w *Watcher) Watch(sources ...string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	added := 0
	for _, src := range sources {
		p, ok := localFile(src)
		if !ok {
			continue
		}
		if _, exists := w.watched[p]; exists {
			continue
		}
		// Missing files are watched too and picked up once they appear.
		if info, err := os.Stat(p); err == nil {
			w.watched[p] = info.ModTime()
		} else {
			w.watched[p] = time.Time{}
		}
		added++
	}
	return added
}

// Unwatch removes a path from the watch list.
func (w *Watcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, path)
}

// Start begins polling. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.pollInterval
	w.mu.Unlock()

	go w.loop(ctx, interval)

	w.logger.Debug("audio watcher started", "interval", interval, "files", w.Count())
}

// Stop stops polling and waits for the loop to exit.
func (w *Watcher) Stop() {
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
	w.logger.Debug("audio watcher stopped")
}

// Count returns the number of watched files.
func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.watched)
}

// IsRunning returns whether the watcher is polling.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, interval time.Duration) {
	w.mu.RLock()
	stop, done := w.stopCh, w.doneCh
	w.mu.RUnlock()
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
			w.checkForChanges()
		}
	}
}

// checkForChanges invalidates every watched file whose modification time
// moved forward.
func (w *Watcher) checkForChanges() {
	w.mu.RLock()
	paths := make(map[string]time.Time, len(w.watched))
	maps.Copy(paths, w.watched)
	w.mu.RUnlock()

	for p, last := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if !mod.After(last) {
			continue
		}

		w.logger.Debug("audio file changed, invalidating decoded copy", "path", p)

		w.mu.Lock()
		w.watched[p] = mod
		w.mu.Unlock()

		if w.target != nil {
			w.target.InvalidateCache(p)
			w.target.InvalidateCache("file://" + p)
		}
	}
}
