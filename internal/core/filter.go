package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/examcast/internal/model"
)

// FilterOp represents a comparison operator.
type FilterOp string

const (
	FilterOpEqual     FilterOp = "="  // Exact match
	FilterOpNotEqual  FilterOp = "!=" // Not equal
	FilterOpContains  FilterOp = "~"  // Contains substring
	FilterOpRegex     FilterOp = "~=" // Regex match
	FilterOpGreater   FilterOp = ">"  // Greater than
	FilterOpLess      FilterOp = "<"  // Less than
	FilterOpGreaterEq FilterOp = ">=" // Greater than or equal
	FilterOpLessEq    FilterOp = "<=" // Less than or equal
)

// FilterCondition represents a single filter condition.
type FilterCondition struct {
	Field    string   // Field name: subject, cue, label, file, time
	Operator FilterOp // Comparison operator
	Value    string   // Value to compare against

	regex  *regexp.Regexp // Compiled regex for ~= operator
	cue    model.Cue      // Parsed cue for cue comparisons
	offset time.Duration  // Parsed offset from now for time comparisons
}

// FilterExpr represents a compound filter expression.
// Multiple conditions are ANDed together.
type FilterExpr struct {
	Conditions []FilterCondition
}

// FilterOptions specifies criteria for filtering events.
type FilterOptions struct {
	Subject  string    // Exact match on subject (case-insensitive)
	Cue      model.Cue // Exact cue match ("" = any)
	Upcoming bool      // Only events scheduled after Now
	Now      time.Time // Reference time for Upcoming (zero = time.Now)
	Limit    int       // Maximum results (0=unlimited)
}

// Filter filters events based on the provided options.
func Filter(events []model.ExamEvent, opts FilterOptions) []model.ExamEvent {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	result := make([]model.ExamEvent, 0, len(events))

	for _, e := range events {
		if opts.Upcoming && !e.ScheduledTime.After(now) {
			continue
		}
		if opts.Subject != "" && !strings.EqualFold(e.Subject, opts.Subject) {
			continue
		}
		if opts.Cue != "" && e.Cue != opts.Cue {
			continue
		}
		result = append(result, e)
	}

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result
}

// ParseDuration parses a duration string with extended formats.
// Supports: 90m, 2h, 1d, a leading minus for the past, and 0.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if s == "0" || s == "" {
		return 0, nil
	}

	if daysStr, found := strings.CutSuffix(s, "d"); found {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// ParseFilter parses a filter expression string into a FilterExpr.
// Format: "field=value,field2~value2,field3>value3"
// Multiple conditions are comma-separated and ANDed together.
//
// Supported fields: subject, cue, label, file, time
// Supported operators: = (equal), != (not equal), ~ (contains), ~= (regex), >, <, >=, <=
//
// Time values are offsets from now: "time>0" is upcoming, "time<-1h" is more
// than an hour ago.
//
// Examples:
//   - "subject=Math"
//   - "cue=exam_start"
//   - "label~remaining"
//   - "subject=Physics,time>0"
func ParseFilter(expr string) (*FilterExpr, error) {
	if expr == "" {
		return &FilterExpr{}, nil
	}

	filter := &FilterExpr{
		Conditions: make([]FilterCondition, 0),
	}

	for part := range strings.SplitSeq(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		cond, err := parseCondition(part)
		if err != nil {
			return nil, err
		}
		filter.Conditions = append(filter.Conditions, cond)
	}

	return filter, nil
}

func parseCondition(s string) (FilterCondition, error) {
	// Longest operators first so "!=" is not read as "=".
	operators := []FilterOp{
		FilterOpNotEqual,
		FilterOpGreaterEq,
		FilterOpLessEq,
		FilterOpRegex,
		FilterOpEqual,
		FilterOpContains,
		FilterOpGreater,
		FilterOpLess,
	}

	for _, op := range operators {
		idx := strings.Index(s, string(op))
		if idx > 0 {
			cond := FilterCondition{
				Field:    strings.ToLower(strings.TrimSpace(s[:idx])),
				Operator: op,
				Value:    strings.TrimSpace(s[idx+len(op):]),
			}
			if err := cond.init(); err != nil {
				return FilterCondition{}, err
			}
			return cond, nil
		}
	}

	return FilterCondition{}, fmt.Errorf("invalid filter condition: %s (missing operator)", s)
}

// init pre-parses and validates the condition value.
func (c *FilterCondition) init() error {
	switch c.Field {
	case "subject", "exam":
		c.Field = "subject"
	case "label", "name":
		c.Field = "label"
	case "file", "audio":
		c.Field = "file"
	case "cue", "type", "event_type":
		c.Field = "cue"
		if c.Operator == FilterOpEqual || c.Operator == FilterOpNotEqual {
			cue, ok := model.ParseCue(c.Value)
			if !ok {
				return fmt.Errorf("unknown cue: %s", c.Value)
			}
			c.cue = cue
		}
	case "time", "at":
		c.Field = "time"
		d, err := ParseDuration(c.Value)
		if err != nil {
			return fmt.Errorf("invalid time value: %w", err)
		}
		c.offset = d
	default:
		return fmt.Errorf("unknown filter field: %s", c.Field)
	}

	if c.Operator == FilterOpRegex {
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		c.regex = re
	}

	return nil
}

// Match tests if an event matches the filter expression at now.
// All conditions must match (AND logic).
func (f *FilterExpr) Match(e model.ExamEvent, now time.Time) bool {
	for _, cond := range f.Conditions {
		if !cond.Match(e, now) {
			return false
		}
	}
	return true
}

// Match tests if an event matches this single condition.
func (c *FilterCondition) Match(e model.ExamEvent, now time.Time) bool {
	switch c.Field {
	case "subject":
		return c.matchString(e.Subject)
	case "label":
		return c.matchString(e.Label())
	case "file":
		return c.matchString(e.AudioFile)
	case "cue":
		switch c.Operator {
		case FilterOpEqual:
			return e.Cue == c.cue
		case FilterOpNotEqual:
			return e.Cue != c.cue
		default:
			return c.matchString(string(e.Cue))
		}
	case "time":
		return c.matchTime(e.ScheduledTime, now.Add(c.offset))
	default:
		return false
	}
}

func (c *FilterCondition) matchString(fieldValue string) bool {
	switch c.Operator {
	case FilterOpEqual:
		return strings.EqualFold(fieldValue, c.Value)
	case FilterOpNotEqual:
		return !strings.EqualFold(fieldValue, c.Value)
	case FilterOpContains:
		return strings.Contains(strings.ToLower(fieldValue), strings.ToLower(c.Value))
	case FilterOpRegex:
		return c.regex != nil && c.regex.MatchString(fieldValue)
	default:
		return false
	}
}

func (c *FilterCondition) matchTime(fieldValue, ref time.Time) bool {
	switch c.Operator {
	case FilterOpGreater:
		return fieldValue.After(ref)
	case FilterOpLess:
		return fieldValue.Before(ref)
	case FilterOpGreaterEq:
		return !fieldValue.Before(ref)
	case FilterOpLessEq:
		return !fieldValue.After(ref)
	default:
		return false
	}
}

// FilterWithExpr filters events using a filter expression.
func FilterWithExpr(events []model.ExamEvent, expr *FilterExpr, now time.Time) []model.ExamEvent {
	if expr == nil || len(expr.Conditions) == 0 {
		return events
	}

	result := make([]model.ExamEvent, 0, len(events))
	for _, e := range events {
		if expr.Match(e, now) {
			result = append(result, e)
		}
	}
	return result
}
