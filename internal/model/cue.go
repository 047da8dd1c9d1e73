package model

import (
	"strings"
	"time"
)

// Cue identifies one kind of announcement. Each schedulable cue has a fixed
// time offset relative to the start of its exam.
type Cue string

// Schedulable cues.
const (
	CueBefore45         Cue = "before_45"
	CueBefore30         Cue = "before_30"
	CueBefore26         Cue = "before_26"
	CueBefore19         Cue = "before_19"
	CueBefore15         Cue = "before_15"
	CueBefore10         Cue = "before_10"
	CueBefore5          Cue = "before_5"
	CueDistributePapers Cue = "distribute_papers"
	CueExamStart        Cue = "exam_start"
	CueReminder         Cue = "reminder"
	CueExamEnd          Cue = "exam_end"
)

// CueTuning is the test-tone music. It exists in every library but is never scheduled.
const CueTuning Cue = "tuning"

// ReminderLead is how long before the end of an exam the reminder cue fires.
const ReminderLead = 15 * time.Minute

type cueInfo struct {
	label string
	alias string // label used by the original paper-based timetables
	// offset returns the cue time relative to exam start for an exam of the given length.
	offset func(examDuration time.Duration) time.Duration
}

func before(d time.Duration) func(time.Duration) time.Duration {
	return func(time.Duration) time.Duration { return -d }
}

var cueTable = map[Cue]cueInfo{
	CueBefore45:         {"45 minutes before", "考试前45分钟", before(45 * time.Minute)},
	CueBefore30:         {"30 minutes before", "考试前30分钟", before(30 * time.Minute)},
	CueBefore26:         {"26 minutes before", "考试前26分钟", before(26 * time.Minute)},
	CueBefore19:         {"19 minutes before", "考试前19分钟", before(19 * time.Minute)},
	CueBefore15:         {"15 minutes before", "考试前15分钟", before(15 * time.Minute)},
	CueBefore10:         {"10 minutes before", "考试前10分钟", before(10 * time.Minute)},
	CueBefore5:          {"5 minutes before", "考试前5分钟", before(5 * time.Minute)},
	CueDistributePapers: {"Distribute papers", "分发试卷", before(15 * time.Minute)},
	CueExamStart:        {"Exam start", "考试开始", func(time.Duration) time.Duration { return 0 }},
	CueReminder:         {"15 minutes remaining", "考试提醒", func(d time.Duration) time.Duration { return d - ReminderLead }},
	CueExamEnd:          {"Exam end", "考试结束", func(d time.Duration) time.Duration { return d }},
	CueTuning:           {"Test tone", "试音音乐", nil},
}

// cueOrder is the display order of schedulable cues.
var cueOrder = []Cue{
	CueDistributePapers,
	CueExamStart,
	CueExamEnd,
	CueReminder,
	CueBefore45,
	CueBefore30,
	CueBefore26,
	CueBefore19,
	CueBefore15,
	CueBefore10,
	CueBefore5,
}

// DefaultCues is the cue set emitted for an exam that does not list its own.
var DefaultCues = []Cue{
	CueBefore45,
	CueBefore30,
	CueBefore19,
	CueBefore15,
	CueBefore10,
	CueBefore5,
	CueDistributePapers,
	CueExamStart,
	CueReminder,
	CueExamEnd,
}

// Cues returns every schedulable cue in display order.
func Cues() []Cue {
	out := make([]Cue, len(cueOrder))
	copy(out, cueOrder)
	return out
}

// Valid reports whether c is a known cue.
func (c Cue) Valid() bool {
	_, ok := cueTable[c]
	return ok
}

// Schedulable reports whether c can be attached to an exam.
func (c Cue) Schedulable() bool {
	info, ok := cueTable[c]
	return ok && info.offset != nil
}

// Label returns the human-readable name of the cue.
func (c Cue) Label() string {
	if info, ok := cueTable[c]; ok {
		return info.label
	}
	return string(c)
}

// Alias returns the original timetable name of the cue.
func (c Cue) Alias() string {
	return cueTable[c].alias
}

// Offset returns the cue time relative to exam start.
// The second value is false for cues that cannot be scheduled.
func (c Cue) Offset(examDuration time.Duration) (time.Duration, bool) {
	info, ok := cueTable[c]
	if !ok || info.offset == nil {
		return 0, false
	}
	return info.offset(examDuration), true
}

// Matches reports whether name refers to c by slug, label or alias.
func (c Cue) Matches(name string) bool {
	parsed, ok := ParseCue(name)
	return ok && parsed == c
}

// ParseCue resolves a cue from its slug, label or alias (case-insensitive).
func ParseCue(name string) (Cue, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if c := Cue(strings.ToLower(name)); c.Valid() {
		return c, true
	}
	for c, info := range cueTable {
		if strings.EqualFold(info.label, name) || info.alias == name {
			return c, true
		}
	}
	return "", false
}
