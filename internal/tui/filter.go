package tui

import (
	"strings"
	"time"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

// filterFields are the field names understood by core.ParseFilter.
var filterFields = map[string]bool{
	"subject": true, "exam": true,
	"label": true, "name": true,
	"file": true, "audio": true,
	"cue": true, "type": true, "event_type": true,
	"time": true, "at": true,
}

// isFilterExpression reports whether query looks like "field<op>value"
// rather than plain search text.
func isFilterExpression(query string) bool {
	if query == "" {
		return false
	}
	for part := range strings.SplitSeq(query, ",") {
		idx := strings.IndexAny(part, "=!~<>")
		if idx <= 0 {
			return false
		}
		field := strings.ToLower(strings.TrimSpace(part[:idx]))
		if !filterFields[field] {
			return false
		}
	}
	return true
}

// filterEvents applies query as a filter expression when it is one, falling
// back to a plain text search. An invalid expression matches nothing.
func filterEvents(events []model.ExamEvent, query string, now time.Time) []model.ExamEvent {
	if query == "" {
		return events
	}
	if isFilterExpression(query) {
		expr, err := core.ParseFilter(query)
		if err != nil {
			return nil
		}
		return core.FilterWithExpr(events, expr, now)
	}
	return core.Search(events, query)
}
