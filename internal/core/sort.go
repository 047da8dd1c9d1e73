// Package core provides filtering, sorting, and lookup logic.
package core

import (
	"sort"
	"strings"

	"github.com/jmylchreest/examcast/internal/model"
)

// SortField represents a field to sort by.
type SortField string

const (
	SortByTime    SortField = "time"
	SortBySubject SortField = "subject"
	SortByCue     SortField = "cue"
)

// SortOrder represents ascending or descending order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortOptions specifies sorting criteria.
type SortOptions struct {
	Field SortField // Field to sort by
	Order SortOrder // Sort order (asc/desc)
}

// DefaultSortOptions returns default sort options (earliest first).
func DefaultSortOptions() SortOptions {
	return SortOptions{
		Field: SortByTime,
		Order: SortAsc,
	}
}

// SortStable sorts events by ScheduledTime, keeping the relative order of ties.
func SortStable(events []model.ExamEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ScheduledTime.Before(events[j].ScheduledTime)
	})
}

// SortCanonical sorts events by ScheduledTime, then ID.
// IDs are monotonic ULIDs, so ties come out in creation order.
func SortCanonical(events []model.ExamEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].ScheduledTime, events[j].ScheduledTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return events[i].ID < events[j].ID
	})
}

// Sort sorts events in place based on the provided options.
func Sort(events []model.ExamEvent, opts SortOptions) {
	if len(events) == 0 {
		return
	}

	sort.SliceStable(events, func(i, j int) bool {
		var less bool

		switch opts.Field {
		case SortBySubject:
			less = strings.ToLower(events[i].Subject) < strings.ToLower(events[j].Subject)
		case SortByCue:
			less = events[i].Cue < events[j].Cue
		default:
			less = events[i].ScheduledTime.Before(events[j].ScheduledTime)
		}

		if opts.Order == SortDesc {
			return !less
		}
		return less
	})
}

// ParseSortField parses a sort field string.
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subject", "s":
		return SortBySubject, nil
	case "cue", "type", "c":
		return SortByCue, nil
	default:
		return SortByTime, nil
	}
}

// ParseSortOrder parses a sort order string.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desc", "descending", "d":
		return SortDesc, nil
	default:
		return SortAsc, nil
	}
}
