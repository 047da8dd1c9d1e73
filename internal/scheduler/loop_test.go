package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/examcast/internal/model"
)

var day = time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)

func at(hh, mm, ss int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second)
}

type staticSource struct {
	mu     sync.Mutex
	events []model.ExamEvent
	panics int
}

func (s *staticSource) Events() []model.ExamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics > 0 {
		s.panics--
		panic("store exploded")
	}
	out := make([]model.ExamEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *staticSource) set(events []model.ExamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

type fakePlayer struct {
	mu    sync.Mutex
	busy  bool
	err   error
	plays []string
}

func (p *fakePlayer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *fakePlayer) Play(_ context.Context, eventID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, eventID)
	return p.err
}

func (p *fakePlayer) setBusy(b bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = b
}

func (p *fakePlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.plays...)
}

type loopMetrics struct {
	mu        sync.Mutex
	fired     []string
	countdown int64
	total     int
}

func (m *loopMetrics) CueFired(cue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = append(m.fired, cue)
}

func (m *loopMetrics) SetSchedule(events int, countdown int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.countdown = events, countdown
}

func mathExam() []model.ExamEvent {
	return []model.ExamEvent{
		{ID: "01", Subject: "Math", Cue: model.CueDistributePapers, ScheduledTime: at(8, 45, 0), AudioFile: "/d.mp3"},
		{ID: "02", Subject: "Math", Cue: model.CueExamStart, ScheduledTime: at(9, 0, 0), AudioFile: "/s.mp3", Duration: 120},
		{ID: "03", Subject: "Math", Cue: model.CueReminder, ScheduledTime: at(10, 45, 0), AudioFile: "/r.mp3"},
		{ID: "04", Subject: "Math", Cue: model.CueExamEnd, ScheduledTime: at(11, 0, 0), AudioFile: "/e.mp3"},
	}
}

func newLoop(events []model.ExamEvent, p *fakePlayer, opts Options) (*Loop, *staticSource) {
	src := &staticSource{events: events}
	opts.Autoplay = true
	return New(clockwork.NewFakeClockAt(day), src, p, opts), src
}

func TestTick_FiresOnTimeOnce(t *testing.T) {
	p := &fakePlayer{}
	m := &loopMetrics{}
	l, _ := newLoop(mathExam(), p, Options{Metrics: m})
	ctx := context.Background()

	snap := l.Tick(ctx, at(8, 44, 59))
	assert.Nil(t, snap.Fired)
	assert.Empty(t, p.played())

	snap = l.Tick(ctx, at(8, 45, 0))
	require.NotNil(t, snap.Fired)
	assert.Equal(t, "01", snap.Fired.ID)

	l.Tick(ctx, at(8, 45, 0).Add(500*time.Millisecond))
	l.Tick(ctx, at(8, 45, 1))
	assert.Equal(t, []string{"01"}, p.played())
	assert.True(t, l.Fired("01"))

	m.mu.Lock()
	assert.Equal(t, []string{"distribute_papers"}, m.fired)
	m.mu.Unlock()
}

func TestTick_WindowBounds(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exact", at(9, 0, 0), true},
		{"end of window", at(9, 0, 1), true},
		{"just past window", at(9, 0, 1).Add(time.Millisecond), false},
		{"early", at(9, 0, 0).Add(-time.Millisecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlayer{}
			l, _ := newLoop(mathExam()[1:2], p, Options{})
			snap := l.Tick(context.Background(), tt.now)
			assert.Equal(t, tt.want, snap.Fired != nil)
			assert.Equal(t, tt.want, len(p.played()) == 1)
		})
	}
}

func TestTick_LateStartNeverFires(t *testing.T) {
	p := &fakePlayer{}
	l, _ := newLoop(mathExam(), p, Options{})

	// First observation is long after the cue.
	l.Tick(context.Background(), at(9, 30, 0))
	l.Tick(context.Background(), at(9, 30, 1))
	assert.Empty(t, p.played())
}

func TestTick_BusyPlayerDefers(t *testing.T) {
	p := &fakePlayer{busy: true}
	l, _ := newLoop(mathExam(), p, Options{Window: 2 * time.Second})
	ctx := context.Background()

	assert.Nil(t, l.Tick(ctx, at(9, 0, 0)).Fired)
	assert.False(t, l.Fired("02"))

	p.setBusy(false)
	snap := l.Tick(ctx, at(9, 0, 1))
	require.NotNil(t, snap.Fired)
	assert.Equal(t, "02", snap.Fired.ID)
}

func TestTick_AutoplayOff(t *testing.T) {
	p := &fakePlayer{}
	l, _ := newLoop(mathExam(), p, Options{})
	l.SetAutoplay(false)
	assert.False(t, l.Autoplay())

	snap := l.Tick(context.Background(), at(9, 0, 0))
	assert.Nil(t, snap.Fired)
	assert.False(t, snap.Autoplay)
	assert.Empty(t, p.played())
}

func TestTick_EarliestDueFirst(t *testing.T) {
	events := []model.ExamEvent{
		{ID: "b", Subject: "Math", Cue: model.CueDistributePapers, ScheduledTime: at(8, 45, 0), AudioFile: "/d.mp3"},
		{ID: "a", Subject: "Math", Cue: model.CueBefore15, ScheduledTime: at(8, 45, 0), AudioFile: "/15.mp3"},
		{ID: "c", Subject: "Bio", Cue: model.CueBefore10, ScheduledTime: at(8, 44, 59).Add(500 * time.Millisecond), AudioFile: "/10.mp3"},
	}
	p := &fakePlayer{}
	l, _ := newLoop(events, p, Options{})
	ctx := context.Background()

	l.Tick(ctx, at(8, 45, 0))
	l.Tick(ctx, at(8, 45, 0).Add(100*time.Millisecond))
	l.Tick(ctx, at(8, 45, 0).Add(200*time.Millisecond))
	// Earliest first, then list order among equal times.
	assert.Equal(t, []string{"c", "b", "a"}, p.played())
}

func TestTick_PlayErrorReportedNotRetried(t *testing.T) {
	p := &fakePlayer{err: errors.New("device gone")}

	var (
		mu     sync.Mutex
		failed []string
	)
	l, _ := newLoop(mathExam(), p, Options{OnFire: func(e model.ExamEvent, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, e.ID)
		}
	}})

	l.Tick(context.Background(), at(9, 0, 0))
	l.Tick(context.Background(), at(9, 0, 1))
	assert.Equal(t, []string{"02"}, p.played())
	assert.Equal(t, []string{"02"}, failed)
}

func TestTick_Snapshot(t *testing.T) {
	p := &fakePlayer{}
	m := &loopMetrics{}
	l, _ := newLoop(mathExam(), p, Options{Metrics: m})

	snap := l.Tick(context.Background(), at(9, 30, 0).Add(400*time.Millisecond))
	require.NotNil(t, snap.Next)
	assert.Equal(t, "03", snap.Next.ID)
	assert.Equal(t, int64(75*60-1), snap.Countdown)
	assert.Equal(t, "Math", snap.CurrentSubject)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, snap, l.Last())

	snap = l.Tick(context.Background(), at(12, 0, 0))
	assert.Nil(t, snap.Next)
	assert.Zero(t, snap.Countdown)
	assert.Empty(t, snap.CurrentSubject)

	m.mu.Lock()
	assert.Equal(t, 4, m.total)
	assert.Zero(t, m.countdown)
	m.mu.Unlock()
}

func TestTick_LatchForgetsRemovedEvents(t *testing.T) {
	p := &fakePlayer{}
	l, src := newLoop(mathExam(), p, Options{})

	l.Tick(context.Background(), at(9, 0, 0))
	assert.True(t, l.Fired("02"))

	src.set(nil)
	l.Tick(context.Background(), at(9, 0, 1))
	assert.False(t, l.Fired("02"))
}

func TestRun_TicksOnClock(t *testing.T) {
	p := &fakePlayer{}
	src := &staticSource{events: mathExam(), panics: 1}
	clock := clockwork.NewFakeClockAt(at(8, 59, 59))
	l := New(clock, src, p, Options{Autoplay: true})
	snaps := l.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// The first tick panics and is recovered.
	bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	clock.Advance(time.Second)

	select {
	case snap := <-snaps:
		require.NotNil(t, snap.Fired)
		assert.Equal(t, "02", snap.Fired.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after tick")
	}
	assert.Equal(t, []string{"02"}, p.played())

	cancel()
	assert.NoError(t, <-done)
	_, ok := <-snaps
	assert.False(t, ok)
}

func TestSubscribe_LatestWins(t *testing.T) {
	p := &fakePlayer{}
	l, _ := newLoop(mathExam(), p, Options{})
	ch := l.Subscribe()

	l.Tick(context.Background(), at(7, 0, 0))
	l.Tick(context.Background(), at(7, 0, 1))

	snap := <-ch
	assert.True(t, at(7, 0, 1).Equal(snap.Now))
	select {
	case <-ch:
		t.Fatal("stale snapshot kept")
	default:
	}
}
