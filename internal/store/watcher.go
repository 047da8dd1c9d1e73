package store

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events produced by an atomic replace.
const debounce = 100 * time.Millisecond

// FileWatcher re-hydrates a Store when another process rewrites its file.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	store    *Store
	filePath string
	logger   *slog.Logger
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewFileWatcher creates a new file watcher for the store's persistence file.
func NewFileWatcher(store *Store, filePath string, logger *slog.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileWatcher{
		watcher:  watcher,
		store:    store,
		filePath: filePath,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the file for changes.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = true
	fw.mu.Unlock()

	// Watch the directory: the file itself is replaced by rename.
	if err := fw.watcher.Add(filepath.Dir(fw.filePath)); err != nil {
		return err
	}

	go fw.watch()
	return nil
}

func (fw *FileWatcher) watch() {
	filename := filepath.Base(fw.filePath)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerCh = timer.C
			}

		case <-timerCh:
			timerCh = nil
			fw.logger.Debug("events file changed, rehydrating store", "file", fw.filePath)
			if err := fw.store.Hydrate(); err != nil {
				fw.logger.Warn("failed to rehydrate store", "error", err)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", "error", err)

		case <-fw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Stop stops the file watcher.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.running {
		return nil
	}

	fw.running = false
	close(fw.done)
	return fw.watcher.Close()
}
