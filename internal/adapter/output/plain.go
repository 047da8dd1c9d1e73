package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

// PlainFormatter formats events as an aligned table.
type PlainFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewPlainFormatter creates a new plain text formatter.
func NewPlainFormatter(opts FormatterOptions) *PlainFormatter {
	f := &PlainFormatter{opts: opts}

	if opts.Template != "" {
		tmpl, err := template.New("plain").Funcs(templateFuncs(opts.now())).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}

	return f
}

// Format writes events as plain text, preceded by the exam date.
func (f *PlainFormatter) Format(w io.Writer, events []model.ExamEvent) error {
	now := f.opts.now()

	if f.template != nil {
		for i := range events {
			data := templateData{Index: i + 1, Event: &events[i], RelativeTime: relativeTime(events[i].ScheduledTime, now)}
			if err := f.template.Execute(w, data); err != nil {
				return err
			}
		}
		return nil
	}

	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events scheduled.")
		return err
	}

	if date, ok := core.ExamDate(events); ok {
		if _, err := fmt.Fprintf(w, "Exam date: %s\n\n", date.Format("2006-01-02")); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range events {
		e := &events[i]
		var cols []string
		if f.opts.ShowIndex {
			cols = append(cols, fmt.Sprintf("[%d]", i+1))
		}
		cols = append(cols, e.ScheduledTime.Format("15:04"), e.Subject, e.Label())
		if e.IsExamStart() && e.Duration > 0 {
			cols[len(cols)-1] += fmt.Sprintf(" (%d min)", e.Duration)
		}
		if f.opts.ShowTime {
			cols = append(cols, relativeTime(e.ScheduledTime, now))
		}
		if f.opts.ShowFile {
			cols = append(cols, e.AudioFileName())
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cols, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// FormatField outputs a specific field from an event.
func FormatField(e *model.ExamEvent, field string) string {
	switch strings.ToLower(field) {
	case "id":
		return e.ID
	case "subject":
		return e.Subject
	case "cue", "type", "event_type":
		return string(e.Cue)
	case "time":
		return e.ScheduledTime.Format("2006-01-02 15:04")
	case "audio", "file", "audio_file":
		return e.AudioFile
	case "message":
		return e.CustomMessage
	default:
		return e.Label()
	}
}
