package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Monotonic(t *testing.T) {
	prev, err := NewID()
	require.NoError(t, err)

	for range 100 {
		id, err := NewID()
		require.NoError(t, err)
		assert.Len(t, id, 26)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestCueOffsets(t *testing.T) {
	exam := 120 * time.Minute

	tests := []struct {
		cue  Cue
		want time.Duration
	}{
		{CueBefore45, -45 * time.Minute},
		{CueBefore30, -30 * time.Minute},
		{CueBefore26, -26 * time.Minute},
		{CueBefore19, -19 * time.Minute},
		{CueBefore15, -15 * time.Minute},
		{CueBefore10, -10 * time.Minute},
		{CueBefore5, -5 * time.Minute},
		{CueDistributePapers, -15 * time.Minute},
		{CueExamStart, 0},
		{CueReminder, 105 * time.Minute},
		{CueExamEnd, 120 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(string(tt.cue), func(t *testing.T) {
			got, ok := tt.cue.Offset(exam)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCueTuning_NotSchedulable(t *testing.T) {
	assert.True(t, CueTuning.Valid())
	assert.False(t, CueTuning.Schedulable())

	_, ok := CueTuning.Offset(time.Hour)
	assert.False(t, ok)
}

func TestParseCue(t *testing.T) {
	tests := []struct {
		input string
		want  Cue
		ok    bool
	}{
		{"exam_start", CueExamStart, true},
		{"EXAM_END", CueExamEnd, true},
		{"Distribute papers", CueDistributePapers, true},
		{"考试提醒", CueReminder, true},
		{"考试前26分钟", CueBefore26, true},
		{" before_5 ", CueBefore5, true},
		{"试音音乐", CueTuning, true},
		{"lunch break", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseCue(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultCues_AllSchedulable(t *testing.T) {
	for _, c := range DefaultCues {
		assert.True(t, c.Schedulable(), c)
	}
	assert.NotContains(t, DefaultCues, CueBefore26)
}

func TestExamEvent_Validate(t *testing.T) {
	valid := ExamEvent{
		ID:            "01HZ0000000000000000000000",
		Subject:       "Math",
		Cue:           CueExamStart,
		ScheduledTime: time.Date(2025, 4, 20, 9, 0, 0, 0, time.UTC),
		AudioFile:     "/start_exam.mp3",
		Duration:      120,
	}
	require.NoError(t, valid.Validate())

	e := valid
	e.ID = ""
	assert.ErrorIs(t, e.Validate(), ErrEmptyID)

	e = valid
	e.Subject = ""
	assert.ErrorIs(t, e.Validate(), ErrEmptySubject)

	e = valid
	e.Cue = CueTuning
	assert.ErrorIs(t, e.Validate(), ErrUnknownCue)

	e = valid
	e.ScheduledTime = time.Time{}
	assert.ErrorIs(t, e.Validate(), ErrZeroTime)

	e = valid
	e.AudioFile = ""
	assert.ErrorIs(t, e.Validate(), ErrEmptyAudioFile)
}

func TestExamEvent_InProgress(t *testing.T) {
	start := time.Date(2025, 4, 20, 9, 0, 0, 0, time.UTC)
	e := ExamEvent{Cue: CueExamStart, ScheduledTime: start, Duration: 120}

	assert.False(t, e.InProgress(start.Add(-time.Second)))
	assert.True(t, e.InProgress(start))
	assert.True(t, e.InProgress(start.Add(time.Hour)))
	assert.True(t, e.InProgress(start.Add(120*time.Minute)))
	assert.False(t, e.InProgress(start.Add(120*time.Minute+time.Second)))

	e.Cue = CueExamEnd
	assert.False(t, e.InProgress(start.Add(time.Hour)))

	e = ExamEvent{Cue: CueExamStart, ScheduledTime: start}
	assert.False(t, e.InProgress(start))
}

func TestExamEvent_LabelAndFileName(t *testing.T) {
	e := ExamEvent{Cue: CueReminder, AudioFile: "https://cdn.example.org/voices/15min_remaining.mp3?v=2"}
	assert.Equal(t, "15 minutes remaining", e.Label())
	assert.Equal(t, "15min_remaining.mp3", e.AudioFileName())

	e.DisplayName = "Quarter hour left"
	assert.Equal(t, "Quarter hour left", e.Label())

	e.AudioFile = "data:audio/wav;base64,AAAA"
	assert.Equal(t, "", e.AudioFileName())
}

func TestAudioSource_Local(t *testing.T) {
	assert.False(t, AudioSource{URL: "https://example.org/a.mp3"}.Local())
	assert.True(t, AudioSource{URL: "https://example.org/a.mp3", Data: []byte{1}}.Local())
	assert.True(t, AudioSource{URL: "data:audio/wav;base64,AAAA"}.Local())
}
