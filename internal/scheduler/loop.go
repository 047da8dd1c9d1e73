// Package scheduler fires exam cues at their scheduled wall-clock time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
)

// Defaults for Options.
const (
	DefaultWindow   = time.Second
	DefaultInterval = time.Second
)

// EventSource supplies the current schedule in scheduled order.
type EventSource interface {
	Events() []model.ExamEvent
}

// Player starts announcements.
type Player interface {
	// Busy reports whether something is loading or playing.
	Busy() bool
	Play(ctx context.Context, eventID, url string) error
}

// Metrics receives loop observations. A nil Metrics is ignored.
type Metrics interface {
	CueFired(cue string)
	SetSchedule(events int, countdown int64)
}

// FireFunc is called after the loop started (or failed to start) a cue.
type FireFunc func(e model.ExamEvent, err error)

// Options configures a Loop.
type Options struct {
	Window   time.Duration // how late a cue may still fire (default 1s)
	Interval time.Duration // tick period (default 1s)
	Autoplay bool
	OnFire   FireFunc
	Metrics  Metrics
	Logger   *slog.Logger
}

// Snapshot is the loop's view of the schedule at one tick.
type Snapshot struct {
	Now            time.Time
	Total          int
	Next           *model.ExamEvent
	Countdown      int64 // whole seconds until Next, 0 if none
	CurrentSubject string
	Fired          *model.ExamEvent // cue started on this tick, if any
	Autoplay       bool
}

// Loop evaluates the schedule once per tick.
// Ticks run sequentially on the goroutine calling Run.
type Loop struct {
	clock   clockwork.Clock
	source  EventSource
	player  Player
	opts    Options
	logger  *slog.Logger
	metrics Metrics

	autoplay atomic.Bool

	mu          sync.Mutex
	fired       map[string]bool
	last        Snapshot
	subscribers []chan Snapshot
}

// New creates a Loop.
func New(clock clockwork.Clock, source EventSource, player Player, opts Options) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &Loop{
		clock:   clock,
		source:  source,
		player:  player,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		fired:   make(map[string]bool),
	}
	l.autoplay.Store(opts.Autoplay)
	return l
}

// SetAutoplay enables or disables automatic firing.
func (l *Loop) SetAutoplay(enabled bool) {
	if l.autoplay.Swap(enabled) != enabled {
		l.logger.Info("autoplay changed", "enabled", enabled)
	}
}

// Autoplay reports whether automatic firing is enabled.
func (l *Loop) Autoplay() bool {
	return l.autoplay.Load()
}

// Run ticks until ctx is done. The first tick runs immediately.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.opts.Interval)
	defer ticker.Stop()
	defer l.closeSubscribers()

	l.logger.Debug("trigger loop started", "interval", l.opts.Interval, "window", l.opts.Window)

	l.safeTick(ctx, l.clock.Now())
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("trigger loop stopped")
			return nil
		case <-ticker.Chan():
			l.safeTick(ctx, l.clock.Now())
		}
	}
}

// safeTick runs one tick, recovering from a panic so the loop keeps going.
func (l *Loop) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("trigger tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	l.Tick(ctx, now)
}

// Tick evaluates the schedule at now, fires at most one due cue and
// publishes the resulting snapshot.
func (l *Loop) Tick(ctx context.Context, now time.Time) Snapshot {
	events := l.source.Events()

	snap := Snapshot{
		Now:      now,
		Total:    len(events),
		Autoplay: l.Autoplay(),
	}
	if next := core.Next(events, now); next != nil {
		n := *next
		snap.Next = &n
		snap.Countdown = core.Countdown(next, now)
	}
	snap.CurrentSubject = core.CurrentSubject(events, now)

	if snap.Autoplay {
		if due := l.due(events, now); due != nil && !l.player.Busy() {
			l.fire(ctx, *due)
			fired := *due
			snap.Fired = &fired
		}
	}

	l.forgetRemoved(events)

	if l.metrics != nil {
		l.metrics.SetSchedule(snap.Total, snap.Countdown)
	}
	l.publish(snap)
	return snap
}

// due returns the earliest unfired event whose firing window contains now.
func (l *Loop) due(events []model.ExamEvent, now time.Time) *model.ExamEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best *model.ExamEvent
	for i := range events {
		e := &events[i]
		if l.fired[e.ID] {
			continue
		}
		late := now.Sub(e.ScheduledTime)
		if late < 0 || late > l.opts.Window {
			continue
		}
		if best == nil || e.ScheduledTime.Before(best.ScheduledTime) {
			best = e
		}
	}
	return best
}

func (l *Loop) fire(ctx context.Context, e model.ExamEvent) {
	// Latch before starting so a failed start is never retried.
	l.mu.Lock()
	l.fired[e.ID] = true
	l.mu.Unlock()

	l.logger.Info("firing cue", "subject", e.Subject, "cue", e.Cue, "scheduled", e.ScheduledTime.Format(time.TimeOnly), "id", e.ID)
	if l.metrics != nil {
		l.metrics.CueFired(string(e.Cue))
	}

	err := l.player.Play(ctx, e.ID, e.AudioFile)
	if err != nil {
		l.logger.Warn("failed to start cue", "subject", e.Subject, "cue", e.Cue, "error", err)
	}
	if l.opts.OnFire != nil {
		l.opts.OnFire(e, err)
	}
}

// Fired reports whether the cue with id has been fired.
func (l *Loop) Fired(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired[id]
}

// forgetRemoved drops latch entries for events no longer scheduled.
func (l *Loop) forgetRemoved(events []model.ExamEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.fired) == 0 {
		return
	}
	present := make(map[string]bool, len(events))
	for _, e := range events {
		present[e.ID] = true
	}
	for id := range l.fired {
		if !present[id] {
			delete(l.fired, id)
		}
	}
}

// Last returns the most recent snapshot.
func (l *Loop) Last() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Subscribe returns a channel receiving the latest snapshot after each tick.
// Slow readers only see the most recent one.
func (l *Loop) Subscribe() <-chan Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Snapshot, 1)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

func (l *Loop) publish(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.last = snap
	for _, ch := range l.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (l *Loop) closeSubscribers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil
}
