package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

// SchemaVersion is the current persistence schema version.
const SchemaVersion = 1

// Persistence defines the interface for event storage.
type Persistence interface {
	// LoadAll reads every stored event, ordered by scheduled time then ID.
	LoadAll() ([]model.ExamEvent, error)

	// ReplaceAll atomically replaces the stored set.
	// A concurrent reader sees either the old or the new set, never a mix.
	ReplaceAll(events []model.ExamEvent) error

	// Close releases resources.
	Close() error
}

// schemaHeader is the first line of the JSONL file.
type schemaHeader struct {
	SchemaVersion int   `json:"examcast_schema_version"`
	CreatedAt     int64 `json:"created_at"`
}

// ErrPersistenceClosed is returned when operations are attempted on a closed persistence.
var ErrPersistenceClosed = errors.New("persistence is closed")

// JSONLPersistence stores events as one JSON object per line after a schema header.
type JSONLPersistence struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	closed bool
}

// NewJSONLPersistence creates a new JSONLPersistence.
// Creates the file (header only) if it doesn't exist.
func NewJSONLPersistence(path string, logger *slog.Logger) (*JSONLPersistence, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	p := &JSONLPersistence{path: path, logger: logger}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := p.ReplaceAll(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return p, nil
}

// Path returns the file path.
func (p *JSONLPersistence) Path() string {
	return p.path
}

// LoadAll reads all events. Malformed lines are skipped.
func (p *JSONLPersistence) LoadAll() ([]model.ExamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPersistenceClosed
	}

	file, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer func() { _ = file.Close() }()

	var events []model.ExamEvent
	scanner := bufio.NewScanner(file)

	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNum := 0
	skipped := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()

		if len(line) == 0 {
			continue
		}

		if lineNum == 1 {
			var header schemaHeader
			if err := json.Unmarshal(line, &header); err == nil && header.SchemaVersion > 0 {
				if header.SchemaVersion > SchemaVersion {
					return nil, fmt.Errorf("unsupported schema version %d (max: %d)",
						header.SchemaVersion, SchemaVersion)
				}
				continue
			}
		}

		var e model.ExamEvent
		if err := json.Unmarshal(line, &e); err != nil || e.Validate() != nil {
			skipped++
			continue
		}
		events = append(events, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", p.path, err)
	}
	if skipped > 0 {
		p.logger.Warn("skipped malformed event records", "file", p.path, "count", skipped)
	}

	core.SortCanonical(events)
	return events, nil
}

// ReplaceAll writes events to a temp file in the same directory, syncs it and
// renames it over the data file.
func (p *JSONLPersistence) ReplaceAll(events []model.ExamEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPersistenceClosed
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(schemaHeader{SchemaVersion: SchemaVersion, CreatedAt: time.Now().Unix()}); err != nil {
		cleanup()
		return err
	}
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			cleanup()
			return fmt.Errorf("failed to encode event %s: %w", events[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", p.path, err)
	}

	if dir, err := os.Open(filepath.Dir(p.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// Close marks the persistence closed.
func (p *JSONLPersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
