// Package output provides output formatters for exam events.
package output

import (
	"io"
	"time"

	"github.com/jmylchreest/examcast/internal/model"
)

// Formatter formats events for output.
type Formatter interface {
	// Format writes formatted events to the writer.
	Format(w io.Writer, events []model.ExamEvent) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatDmenu FormatType = "dmenu"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
	FormatPlain FormatType = "plain"
	FormatIDs   FormatType = "ids"
)

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) Formatter {
	switch format {
	case FormatJSON:
		return NewJSONFormatter(opts)
	case FormatYAML:
		return NewYAMLFormatter()
	case FormatIDs:
		return NewIDsFormatter()
	case FormatDmenu:
		return NewDmenuFormatter(opts)
	default:
		return NewPlainFormatter(opts)
	}
}

// FormatterOptions configures formatter behavior.
type FormatterOptions struct {
	Template  string    // Custom template for dmenu/plain format
	ShowIndex bool      // Show 1-based index prefix
	ShowTime  bool      // Show time relative to Now
	ShowFile  bool      // Show the audio file name
	Separator string    // Field separator for dmenu format
	Now       time.Time // Reference time (zero = time.Now)
}

// DefaultFormatterOptions returns sensible defaults.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		ShowIndex: true,
		ShowTime:  true,
		Separator: " | ",
	}
}

func (o FormatterOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}
