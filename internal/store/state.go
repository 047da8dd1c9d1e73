package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DataDir returns the path to the examcast data directory.
// Uses XDG_DATA_HOME or defaults to ~/.local/share/examcast.
func DataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "examcast"), nil
}

// EventsPath returns the default path of the event file.
func EventsPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "events.jsonl"), nil
}

// CachePath returns the default path of the audio cache database.
func CachePath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "cache.sqlite"), nil
}

// SharedState holds runtime toggles shared between the CLI and a running
// announcer. Unset fields fall back to the configuration.
// This is persisted to ~/.local/share/examcast/state.json
type SharedState struct {
	Library     string `json:"library,omitempty"`
	OfflineMode *bool  `json:"offline_mode,omitempty"`
	Autoplay    *bool  `json:"autoplay,omitempty"`

	UpdatedAt     int64 `json:"updated_at,omitempty"`
	SchemaVersion int   `json:"schema_version"`
}

const (
	// CurrentSchemaVersion is the current version of the state schema.
	CurrentSchemaVersion = 1
)

var stateFileMutex sync.RWMutex

// DefaultSharedState returns an empty SharedState.
func DefaultSharedState() *SharedState {
	return &SharedState{SchemaVersion: CurrentSchemaVersion}
}

// StateFilePath returns the path to the state file.
func StateFilePath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "state.json"), nil
}

// LoadSharedState loads the shared state from disk.
// A missing or corrupted file yields the default state.
func LoadSharedState() (*SharedState, error) {
	stateFileMutex.RLock()
	defer stateFileMutex.RUnlock()

	path, err := StateFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSharedState(), nil
		}
		return nil, err
	}

	var state SharedState
	if err := json.Unmarshal(data, &state); err != nil {
		return DefaultSharedState(), nil
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = CurrentSchemaVersion
	}

	return &state, nil
}

// SaveSharedState saves the shared state to disk.
func SaveSharedState(state *SharedState) error {
	stateFileMutex.Lock()
	defer stateFileMutex.Unlock()

	path, err := StateFilePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	if state.SchemaVersion == 0 {
		state.SchemaVersion = CurrentSchemaVersion
	}
	state.UpdatedAt = time.Now().Unix()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LibraryOr returns the selected library, or fallback when none is stored.
func (s *SharedState) LibraryOr(fallback string) string {
	if s == nil || s.Library == "" {
		return fallback
	}
	return s.Library
}

// OfflineOr returns the stored offline mode, or fallback when unset.
func (s *SharedState) OfflineOr(fallback bool) bool {
	if s == nil || s.OfflineMode == nil {
		return fallback
	}
	return *s.OfflineMode
}

// AutoplayOr returns the stored autoplay flag, or fallback when unset.
func (s *SharedState) AutoplayOr(fallback bool) bool {
	if s == nil || s.Autoplay == nil {
		return fallback
	}
	return *s.Autoplay
}

// SetOffline stores the offline mode.
func (s *SharedState) SetOffline(v bool) {
	s.OfflineMode = &v
}

// SetAutoplay stores the autoplay flag.
func (s *SharedState) SetAutoplay(v bool) {
	s.Autoplay = &v
}
