package output

import "io"

// SampleTimetable is an example exam description in the import format.
const SampleTimetable = `2025.04.20
Math 09:00 120min {distribute_papers,exam_start,exam_end}
English 14:30 90min
Physics 16:30 60min {before_30,before_15,exam_start,reminder,exam_end}
`

// WriteSample writes SampleTimetable to w.
func WriteSample(w io.Writer) error {
	_, err := io.WriteString(w, SampleTimetable)
	return err
}
