package output

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/examcast/internal/model"
)

// DmenuFormatter formats events one per line for dmenu/rofi/fuzzel pickers.
type DmenuFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewDmenuFormatter creates a new dmenu formatter.
func NewDmenuFormatter(opts FormatterOptions) *DmenuFormatter {
	f := &DmenuFormatter{opts: opts}

	if opts.Template != "" {
		tmpl, err := template.New("dmenu").Funcs(templateFuncs(opts.now())).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}

	return f
}

// Format writes events in dmenu format (one per line).
func (f *DmenuFormatter) Format(w io.Writer, events []model.ExamEvent) error {
	now := f.opts.now()
	for i := range events {
		line := f.formatLine(i+1, &events[i], now)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (f *DmenuFormatter) formatLine(index int, e *model.ExamEvent, now time.Time) string {
	if f.template != nil {
		var buf strings.Builder
		data := templateData{
			Index:        index,
			Event:        e,
			RelativeTime: relativeTime(e.ScheduledTime, now),
		}
		if err := f.template.Execute(&buf, data); err == nil {
			return buf.String()
		}
	}

	// Default format: index | time | subject: label
	var parts []string
	sep := f.opts.Separator
	if sep == "" {
		sep = " | "
	}

	if f.opts.ShowIndex {
		parts = append(parts, fmt.Sprintf("%d", index))
	}
	parts = append(parts, e.ScheduledTime.Format("15:04"))
	if f.opts.ShowTime {
		parts = append(parts, relativeTime(e.ScheduledTime, now))
	}
	parts = append(parts, e.Subject+": "+e.Label())

	return strings.Join(parts, sep)
}

// templateData provides data for custom templates.
type templateData struct {
	Index        int
	Event        *model.ExamEvent
	RelativeTime string
}

func templateFuncs(now time.Time) template.FuncMap {
	return template.FuncMap{
		"truncate": func(s string, maxLen int) string {
			if maxLen <= 0 || len(s) <= maxLen {
				return s
			}
			if maxLen <= 3 {
				return s[:maxLen]
			}
			return s[:maxLen-3] + "..."
		},
		"reltime": func(t time.Time) string {
			return relativeTime(t, now)
		},
		"clock": func(t time.Time) string {
			return t.Format("15:04")
		},
	}
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	if d := t.Sub(now); d > -time.Second && d < time.Second {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
