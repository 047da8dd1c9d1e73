package main

import (
	"fmt"
	"time"

	"github.com/jmylchreest/examcast/internal/cache"
	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/library"
	"github.com/jmylchreest/examcast/internal/store"
)

// loadCatalog returns the embedded library catalog located per config.
func loadCatalog() (*library.Catalog, error) {
	cat, err := library.Embedded()
	if err != nil {
		return nil, fmt.Errorf("failed to load library catalog: %w", err)
	}
	return cat.WithLocation(cfg.Library.BaseURL, config.ExpandPath(cfg.Library.LocalDir)), nil
}

// loadSharedState returns the persisted runtime state, or an empty one.
func loadSharedState() *store.SharedState {
	state, err := store.LoadSharedState()
	if err != nil {
		logger.Warn("failed to load shared state, using config", "error", err)
		return store.DefaultSharedState()
	}
	return state
}

// selectedLibrary returns the library chosen at runtime or in config,
// falling back to the catalog default for unknown ids.
func selectedLibrary(cat *library.Catalog) string {
	id := loadSharedState().LibraryOr(cfg.Library.Selected)
	if !cat.Has(id) {
		logger.Warn("unknown library, using default", "library", id, "default", cat.Default())
		return cat.Default()
	}
	return id
}

// offlineMode reports whether playback should prefer the cache.
func offlineMode() bool {
	return globalOpts.offline || loadSharedState().OfflineOr(cfg.Playback.OfflineMode)
}

// location returns the configured time zone.
func location() *time.Location {
	loc, err := cfg.Location()
	if err != nil {
		// Validate already rejected a bad zone; this only guards a hand-built config.
		return time.Local
	}
	return loc
}

// openCache opens the audio cache at the configured path.
func openCache(fetcher cache.Fetcher) (*cache.Cache, error) {
	path := config.ExpandPath(cfg.Cache.Path)
	if path == "" {
		p, err := store.CachePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache path: %w", err)
		}
		path = p
	}
	if fetcher == nil {
		fetcher = cache.NewHTTPFetcher()
	}
	return cache.New(cache.OpenDefault(path, logger), fetcher, cache.Options{
		Attempts:       cfg.Cache.Attempts,
		AttemptTimeout: cfg.Cache.AttemptTimeout.Duration(),
		BackoffUnit:    cfg.Cache.BackoffUnit.Duration(),
		Logger:         logger,
	}), nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// parseOnOff parses on/off style arguments.
func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
