package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/examcast/internal/model"
)

// YAMLFormatter formats events as a YAML sequence.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Format writes events as YAML.
func (f *YAMLFormatter) Format(w io.Writer, events []model.ExamEvent) error {
	if events == nil {
		events = []model.ExamEvent{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(events); err != nil {
		return err
	}
	return enc.Close()
}
