// Package schedule turns exam descriptions into timed announcement events.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

// ExamSpec describes one exam to generate events for.
type ExamSpec struct {
	Subject  string
	Start    string // HH:MM, local to the generator's location
	Duration int    // minutes
	Cues     []string
}

// Errors returned for an invalid ExamSpec.
var (
	ErrEmptySubject    = errors.New("subject cannot be empty")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidStart    = errors.New("invalid start time")
)

// Resolver maps a cue to an audio location in a library.
type Resolver interface {
	Resolve(cue model.Cue, libraryID string) (string, error)
}

// Warmer prefetches audio in the background.
type Warmer interface {
	Warm(urls []string)
}

// Generator expands exam descriptions into events.
type Generator struct {
	Catalog  Resolver
	Library  string         // selected library id
	Warmer   Warmer         // optional
	Location *time.Location // nil means time.Local
	Logger   *slog.Logger
}

// SpecError reports an exam that could not be expanded.
type SpecError struct {
	Subject string
	Err     error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("exam %q: %v", e.Subject, e.Err)
}

func (e *SpecError) Unwrap() error {
	return e.Err
}

// Generate creates the events for all exams on date, sorted by scheduled time.
// Exams that fail validation are skipped and reported in the joined error;
// events of the remaining exams are still returned.
func (g *Generator) Generate(date time.Time, exams []ExamSpec) ([]model.ExamEvent, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		events []model.ExamEvent
		errs   []error
	)
	for _, spec := range exams {
		evs, err := g.generateExam(date, spec, logger)
		if err != nil {
			errs = append(errs, &SpecError{Subject: spec.Subject, Err: err})
			continue
		}
		events = append(events, evs...)
	}

	core.SortStable(events)

	if g.Warmer != nil && len(events) > 0 {
		g.Warmer.Warm(distinctAudio(events))
	}

	return events, errors.Join(errs...)
}

func (g *Generator) generateExam(date time.Time, spec ExamSpec, logger *slog.Logger) ([]model.ExamEvent, error) {
	subject := strings.TrimSpace(spec.Subject)
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, spec.Duration)
	}
	start, err := g.startTime(date, spec.Start)
	if err != nil {
		return nil, err
	}

	names := spec.Cues
	if len(names) == 0 {
		names = make([]string, len(model.DefaultCues))
		for i, c := range model.DefaultCues {
			names[i] = string(c)
		}
	}

	examLen := time.Duration(spec.Duration) * time.Minute
	events := make([]model.ExamEvent, 0, len(names))

	for _, name := range names {
		cue, ok := model.ParseCue(name)
		named := ok && cue == model.CueExamStart
		if !ok || !cue.Schedulable() {
			// Unknown cues fire at exam start rather than being dropped.
			logger.Warn("unknown cue, treating as exam start", "subject", subject, "cue", name)
			cue = model.CueExamStart
		}
		offset, _ := cue.Offset(examLen)

		audio, err := g.Catalog.Resolve(cue, g.Library)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve audio for %s: %w", cue, err)
		}

		id, err := model.NewID()
		if err != nil {
			return nil, err
		}

		e := model.ExamEvent{
			ID:            id,
			Subject:       subject,
			Cue:           cue,
			ScheduledTime: start.Add(offset),
			AudioFile:     audio,
		}
		// Only a requested exam_start opens an exam window.
		if named {
			e.Duration = spec.Duration
		}
		events = append(events, e)
	}

	return events, nil
}

func (g *Generator) startTime(date time.Time, hhmm string) (time.Time, error) {
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	t, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// ParseClock parses an HH:MM wall-clock time. Single-digit hours are accepted.
func ParseClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "3:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStart, s)
}

// Merge appends added to existing and returns the stably sorted union.
// Neither input is modified.
func Merge(existing, added []model.ExamEvent) []model.ExamEvent {
	out := make([]model.ExamEvent, 0, len(existing)+len(added))
	out = append(out, existing...)
	out = append(out, added...)
	core.SortStable(out)
	return out
}

func distinctAudio(events []model.ExamEvent) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, e := range events {
		if e.AudioFile == "" || seen[e.AudioFile] {
			continue
		}
		seen[e.AudioFile] = true
		urls = append(urls, e.AudioFile)
	}
	return urls
}
