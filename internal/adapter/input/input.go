// Package input provides input adapters for exam timetables and the
// display-name override feed.
package input

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jmylchreest/examcast/internal/schedule"
)

// Timetable is a parsed exam description: one date and its exams.
type Timetable struct {
	Date    time.Time
	Exams   []schedule.ExamSpec
	Skipped []LineError
}

// InputAdapter reads a timetable from a source.
type InputAdapter interface {
	// Name returns the adapter identifier (e.g., "file", "stdin").
	Name() string

	// Import reads and parses the timetable.
	Import(ctx context.Context) (*Timetable, error)
}

// NewAdapter creates an InputAdapter for path. "-" reads standard input.
func NewAdapter(path string, loc *time.Location) (InputAdapter, error) {
	switch path {
	case "":
		return nil, &AdapterError{Source: path, Message: "no timetable given"}
	case "-":
		return &ReaderAdapter{name: "stdin", reader: os.Stdin, loc: loc}, nil
	default:
		return &FileAdapter{Path: path, Location: loc}, nil
	}
}

// FileAdapter reads a timetable file.
type FileAdapter struct {
	Path     string
	Location *time.Location
}

// Name returns the adapter identifier.
func (a *FileAdapter) Name() string {
	return "file"
}

// Import reads and parses the file.
func (a *FileAdapter) Import(ctx context.Context) (*Timetable, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, &AdapterError{Source: a.Path, Message: "failed to open timetable", Err: err}
	}
	defer func() { _ = f.Close() }()

	return (&ReaderAdapter{name: a.Path, reader: f, loc: a.Location}).Import(ctx)
}

// ReaderAdapter parses a timetable from any reader.
type ReaderAdapter struct {
	name   string
	reader io.Reader
	loc    *time.Location
}

// NewReaderAdapter creates an adapter reading from r.
func NewReaderAdapter(r io.Reader, loc *time.Location) *ReaderAdapter {
	return &ReaderAdapter{name: "reader", reader: r, loc: loc}
}

// Name returns the adapter identifier.
func (a *ReaderAdapter) Name() string {
	return a.name
}

// Import parses the timetable.
func (a *ReaderAdapter) Import(ctx context.Context) (*Timetable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tt, err := ParseTimetable(a.reader, a.loc)
	if err != nil {
		return nil, &AdapterError{Source: a.name, Message: "failed to parse timetable", Err: err}
	}
	return tt, nil
}

// AdapterError represents an adapter-related error.
type AdapterError struct {
	Source  string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
