package core

import (
	"strings"
	"time"

	"github.com/jmylchreest/examcast/internal/model"
)

// NoExamInProgress is shown when no exam window contains the current time.
const NoExamInProgress = "no exam in progress"

// LookupByID finds an event by its ID.
// Returns nil if not found.
func LookupByID(events []model.ExamEvent, id string) *model.ExamEvent {
	for i := range events {
		if events[i].ID == id {
			return &events[i]
		}
	}
	return nil
}

// LookupByIndex finds an event by its index (1-based for user-friendliness).
// Returns nil if index is out of bounds.
func LookupByIndex(events []model.ExamEvent, index int) *model.ExamEvent {
	idx := index - 1
	if idx < 0 || idx >= len(events) {
		return nil
	}
	return &events[idx]
}

// Next returns the earliest event scheduled strictly after now, or nil.
// Of several events at the same instant the first in list order wins.
func Next(events []model.ExamEvent, now time.Time) *model.ExamEvent {
	var next *model.ExamEvent
	for i := range events {
		e := &events[i]
		if !e.ScheduledTime.After(now) {
			continue
		}
		if next == nil || e.ScheduledTime.Before(next.ScheduledTime) {
			next = e
		}
	}
	return next
}

// Countdown returns whole seconds from now until next, or 0 when next is nil.
func Countdown(next *model.ExamEvent, now time.Time) int64 {
	if next == nil {
		return 0
	}
	d := next.ScheduledTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// CurrentSubject returns the subject of the first exam_start event whose
// window contains now, or "" when none does.
func CurrentSubject(events []model.ExamEvent, now time.Time) string {
	for i := range events {
		if events[i].InProgress(now) {
			return events[i].Subject
		}
	}
	return ""
}

// ExamDate returns the calendar date of the first exam_start event.
func ExamDate(events []model.ExamEvent) (time.Time, bool) {
	for _, e := range events {
		if e.IsExamStart() {
			y, m, d := e.ScheduledTime.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, e.ScheduledTime.Location()), true
		}
	}
	return time.Time{}, false
}

// Search finds events matching a search term in subject, label or message.
// Case-insensitive substring match.
func Search(events []model.ExamEvent, term string) []model.ExamEvent {
	if term == "" {
		return events
	}

	term = strings.ToLower(term)
	var result []model.ExamEvent

	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Subject), term) ||
			strings.Contains(strings.ToLower(e.Label()), term) ||
			strings.Contains(strings.ToLower(e.CustomMessage), term) {
			result = append(result, e)
		}
	}

	return result
}

// UniqueSubjects returns subjects in order of first appearance.
func UniqueSubjects(events []model.ExamEvent) []string {
	seen := make(map[string]bool)
	var subjects []string

	for _, e := range events {
		if e.Subject != "" && !seen[e.Subject] {
			seen[e.Subject] = true
			subjects = append(subjects, e.Subject)
		}
	}
	return subjects
}
