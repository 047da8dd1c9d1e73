package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/examcast/internal/schedule"
)

// Errors reported for the date line and skipped exam lines.
var (
	ErrEmptyTimetable = errors.New("timetable is empty")
	ErrInvalidDate    = errors.New("invalid exam date")
	ErrTooFewFields   = errors.New("expected SUBJECT HH:MM DURATION")
	ErrBadDuration    = errors.New("invalid duration")
)

// LineError describes an exam line that was skipped.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error {
	return e.Err
}

var cueBlock = regexp.MustCompile(`\{([^}]*)\}`)

// ParseTimetable parses the line-oriented exam description:
//
//	2025.04.20
//	Math 09:00 120min {distribute_papers,exam_start,exam_end}
//	English 14:30 90min
//
// Blank lines are ignored. Exam lines that cannot be parsed are skipped and
// reported in Timetable.Skipped. Only an unreadable date line is fatal.
func ParseTimetable(r io.Reader, loc *time.Location) (*Timetable, error) {
	if loc == nil {
		loc = time.Local
	}

	scanner := bufio.NewScanner(r)
	tt := &Timetable{}
	lineNo := 0
	haveDate := false

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}

		if !haveDate {
			date, err := ParseDate(line, loc)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			tt.Date = date
			haveDate = true
			continue
		}

		spec, err := parseExamLine(line)
		if err != nil {
			tt.Skipped = append(tt.Skipped, LineError{Line: lineNo, Text: line, Err: err})
			continue
		}
		tt.Exams = append(tt.Exams, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read timetable: %w", err)
	}
	if !haveDate {
		return nil, ErrEmptyTimetable
	}

	return tt, nil
}

// ParseDate parses YYYY.MM.DD. Month and day may omit the leading zero.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		nums[i] = n
	}
	y, m, d := nums[0], nums[1], nums[2]
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

func parseExamLine(line string) (schedule.ExamSpec, error) {
	var cues []string
	if m := cueBlock.FindStringSubmatch(line); m != nil {
		for c := range strings.SplitSeq(m[1], ",") {
			if c = strings.TrimSpace(c); c != "" {
				cues = append(cues, c)
			}
		}
		line = cueBlock.ReplaceAllString(line, " ")
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return schedule.ExamSpec{}, ErrTooFewFields
	}

	if _, err := schedule.ParseClock(fields[1]); err != nil {
		return schedule.ExamSpec{}, err
	}

	durStr := strings.TrimSuffix(strings.ToLower(fields[2]), "min")
	dur, err := strconv.Atoi(durStr)
	if err != nil || dur <= 0 {
		return schedule.ExamSpec{}, fmt.Errorf("%w: %q", ErrBadDuration, fields[2])
	}

	return schedule.ExamSpec{
		Subject:  fields[0],
		Start:    fields[1],
		Duration: dur,
		Cues:     cues,
	}, nil
}
