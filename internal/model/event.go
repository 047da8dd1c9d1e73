// Package model defines the core data structures for examcast.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ExamEvent is one timed announcement belonging to an exam.
// ScheduledTime is fixed at creation; only DisplayName may change afterwards.
type ExamEvent struct {
	ID            string    `json:"id" yaml:"id"`
	Subject       string    `json:"subject" yaml:"subject"`
	Cue           Cue       `json:"event_type" yaml:"event_type"`
	ScheduledTime time.Time `json:"scheduled_time" yaml:"scheduled_time"`
	AudioFile     string    `json:"audio_file" yaml:"audio_file"`
	Duration      int       `json:"duration,omitempty" yaml:"duration,omitempty"` // minutes, exam_start only
	CustomMessage string    `json:"custom_message,omitempty" yaml:"custom_message,omitempty"`
	DisplayName   string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// Validation errors.
var (
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrEmptySubject   = errors.New("subject cannot be empty")
	ErrEmptyAudioFile = errors.New("audio_file cannot be empty")
	ErrUnknownCue     = errors.New("unknown event type")
	ErrZeroTime       = errors.New("scheduled_time must be set")
)

// IDs are monotonic within a process so that events created in one batch
// sort by creation order when their scheduled times tie.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new ULID string.
func NewID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// Validate checks that the event has all required fields.
func (e *ExamEvent) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Subject == "" {
		return ErrEmptySubject
	}
	if !e.Cue.Schedulable() {
		return fmt.Errorf("%w: %q", ErrUnknownCue, e.Cue)
	}
	if e.ScheduledTime.IsZero() {
		return ErrZeroTime
	}
	if e.AudioFile == "" {
		return ErrEmptyAudioFile
	}
	return nil
}

// IsExamStart reports whether the event opens an exam window.
func (e *ExamEvent) IsExamStart() bool {
	return e.Cue == CueExamStart
}

// EndTime returns the end of the exam window opened by an exam_start event.
// For other events it equals ScheduledTime.
func (e *ExamEvent) EndTime() time.Time {
	return e.ScheduledTime.Add(time.Duration(e.Duration) * time.Minute)
}

// InProgress reports whether now lies inside [ScheduledTime, EndTime] of an
// exam_start event. Events without a duration have no window.
func (e *ExamEvent) InProgress(now time.Time) bool {
	if !e.IsExamStart() || e.Duration <= 0 {
		return false
	}
	return !now.Before(e.ScheduledTime) && !now.After(e.EndTime())
}

// Label returns the display name override if set, otherwise the cue label.
func (e *ExamEvent) Label() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Cue.Label()
}

// AudioFileName returns the trailing path segment of AudioFile.
func (e *ExamEvent) AudioFileName() string {
	if strings.HasPrefix(e.AudioFile, "data:") {
		return ""
	}
	p := e.AudioFile
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Base(p)
}

// RelativeTime returns a short description of when the event fires relative to now.
func (e *ExamEvent) RelativeTime(now time.Time) string {
	d := e.ScheduledTime.Sub(now)
	suffix := "from now"
	if d < 0 {
		d = -d
		suffix = "ago"
	}
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm %s", int(d.Minutes()), suffix)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm %s", int(d.Hours()), int(d.Minutes())%60, suffix)
	default:
		return fmt.Sprintf("%dd %s", int(d.Hours()/24), suffix)
	}
}
