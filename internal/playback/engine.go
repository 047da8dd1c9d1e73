package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmylchreest/examcast/internal/model"
)

// Defaults for Options.
const (
	DefaultLoadTimeout      = 15 * time.Second
	DefaultProgressInterval = 100 * time.Millisecond
	DefaultVolume           = 1.0

	// ToneVolumeFactor scales the test tone relative to the master volume.
	ToneVolumeFactor = 0.3
	// FallbackVolumeFactor scales the fallback sine tone.
	FallbackVolumeFactor = 0.1
	FallbackFrequency    = 440.0
	FallbackDuration     = time.Second

	eventBuffer = 64
)

// Options configures an Engine.
type Options struct {
	LoadTimeout      time.Duration
	ProgressInterval time.Duration
	Volume           float64 // 0..1, zero means DefaultVolume
	Muted            bool
	Offline          bool
	Clock            clockwork.Clock
	Logger           *slog.Logger
	Metrics          Metrics
	Resolver         Resolver // optional, consulted when offline
	Network          Online   // optional, offline is assumed when it reports false
}

type session struct {
	kind    Kind
	state   State
	eventID string
	url     string
	gen     uint64
	track   Track
	cancel  context.CancelFunc
	elapsed time.Duration
	length  time.Duration
	lastErr error
}

// Engine owns the primary and tone sessions.
// All state lives behind one mutex; asynchronous load and progress results
// carry the session generation they were started with and are dropped when
// it no longer matches.
type Engine struct {
	out    Output
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	sessions [2]*session
	volume   float64
	muted    bool
	offline  bool
	closed   bool
	events   chan Event

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine playing through out.
func NewEngine(out Output, opts Options) *Engine {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Volume <= 0 {
		opts.Volume = DefaultVolume
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		out:    out,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		sessions: [2]*session{
			{kind: KindPrimary},
			{kind: KindTone},
		},
		volume:  clamp(opts.Volume),
		muted:   opts.Muted,
		offline: opts.Offline,
		events:  make(chan Event, eventBuffer),
		base:    ctx,
		cancel:  cancel,
	}
}

// Events returns the engine's event stream. It is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Play starts the announcement for eventID from url on the primary session.
// Calling it again for the event that is currently playing pauses it; a
// paused or different event is restarted from the beginning. Any tone is
// stopped first. Loading continues in the background; the outcome arrives on
// Events.
func (e *Engine) Play(ctx context.Context, eventID, url string) error {
	return e.start(ctx, KindPrimary, eventID, url)
}

// PlayTone starts the test tone from url, stopping any announcement.
// Calling it while the tone is playing pauses it.
func (e *Engine) PlayTone(ctx context.Context, url string) error {
	return e.start(ctx, KindTone, "", url)
}

func (e *Engine) start(ctx context.Context, kind Kind, eventID, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	s := e.sessions[kind]
	if s.state == StatePlaying && s.eventID == eventID && s.url == url {
		return e.pauseLocked(s)
	}

	e.teardownLocked(e.sessions[kind.other()])
	e.teardownLocked(s)

	s.gen++
	s.eventID = eventID
	s.url = url
	s.lastErr = nil
	s.state = StateLoading
	e.emitLocked(e.stateEvent(s))

	sessCtx, sessCancel := context.WithCancel(e.base)
	s.cancel = sessCancel

	src := model.AudioSource{URL: url}
	offline := e.offlineLocked()
	volume := e.effectiveVolumeLocked(kind)
	gen := s.gen

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Values of the caller's context are kept; its cancellation is not,
		// the session outlives a single request.
		e.load(context.WithoutCancel(ctx), sessCtx, kind, gen, src, offline, volume)
	}()
	return nil
}

type loadResult struct {
	track Track
	err   error
}

func (e *Engine) load(reqCtx, sessCtx context.Context, kind Kind, gen uint64, src model.AudioSource, offline bool, volume float64) {
	if offline && e.opts.Resolver != nil {
		src = e.opts.Resolver.Resolve(reqCtx, src.URL)
		if !src.Local() {
			e.logger.Debug("no cached copy, loading from origin while offline", "url", src.URL)
		}
	}

	loadCtx, cancel := context.WithTimeout(sessCtx, e.opts.LoadTimeout)
	defer cancel()

	done := make(chan loadResult, 1)
	go func() {
		t, err := e.out.Load(loadCtx, src, volume)
		done <- loadResult{track: t, err: err}
	}()

	var res loadResult
	select {
	case res = <-done:
	case <-loadCtx.Done():
		// Release whatever the output produces late.
		go func() {
			if r := <-done; r.track != nil {
				r.track.Stop()
			}
		}()
		if sessCtx.Err() != nil {
			return
		}
		res.err = ErrLoadTimeout
	}
	if res.err == nil && loadCtx.Err() != nil && sessCtx.Err() == nil {
		res.track.Stop()
		res.track, res.err = nil, ErrLoadTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions[kind]
	if s.gen != gen || e.closed {
		if res.track != nil {
			res.track.Stop()
		}
		return
	}

	if res.err == nil {
		if err := res.track.Play(); err != nil {
			res.track.Stop()
			res.err = err
		}
	}
	if res.err != nil {
		e.failLocked(s, res.err)
		return
	}

	s.track = res.track
	s.state = StatePlaying
	s.elapsed = 0
	s.length = res.track.Duration()
	e.emitLocked(e.stateEvent(s))
	if e.opts.Metrics != nil {
		e.opts.Metrics.PlaybackStarted(kind.String())
	}
	e.logger.Debug("playback started", "session", kind, "event", s.eventID, "url", s.url)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watch(sessCtx, kind, gen, res.track)
	}()
}

func (e *Engine) watch(ctx context.Context, kind Kind, gen uint64, track Track) {
	ticker := e.clock.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-track.Done():
			e.finished(kind, gen, track.Err())
			return
		case <-ticker.Chan():
			e.progress(kind, gen)
		}
	}
}

func (e *Engine) progress(kind Kind, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions[kind]
	if s.gen != gen || s.state != StatePlaying || s.track == nil {
		return
	}
	s.elapsed = s.track.Position()
	if d := s.track.Duration(); d > 0 {
		s.length = d
	}
	e.emitLocked(Event{
		Session:  kind,
		Type:     EventProgress,
		State:    s.state,
		EventID:  s.eventID,
		URL:      s.url,
		Elapsed:  s.elapsed,
		Duration: s.length,
	})
}

func (e *Engine) finished(kind Kind, gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions[kind]
	if s.gen != gen {
		return
	}
	if err != nil {
		e.failLocked(s, err)
		return
	}

	ev := Event{Session: kind, Type: EventEnded, State: StateIdle, EventID: s.eventID, URL: s.url, Elapsed: s.length, Duration: s.length}
	e.resetLocked(s)
	e.emitLocked(ev)
	e.emitLocked(e.stateEvent(s))
}

// failLocked reports err and leaves the session idle.
func (e *Engine) failLocked(s *session, err error) {
	cause := Classify(err)
	ev := Event{
		Session:     s.kind,
		Type:        EventError,
		State:       StateIdle,
		EventID:     s.eventID,
		URL:         s.url,
		Err:         err,
		Cause:       cause,
		Recoverable: cause.Recoverable(),
	}
	e.resetLocked(s)
	s.lastErr = err

	if e.opts.Metrics != nil {
		e.opts.Metrics.PlaybackFailed(string(cause))
	}
	e.logger.Warn("playback failed", "session", s.kind, "event", ev.EventID, "url", ev.URL, "cause", cause, "error", err)

	e.emitLocked(ev)
	e.emitLocked(e.stateEvent(s))
}

// Pause pauses a playing session.
func (e *Engine) Pause(kind Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	return e.pauseLocked(e.sessions[kind])
}

func (e *Engine) pauseLocked(s *session) error {
	if s.state != StatePlaying || s.track == nil {
		return ErrNotPlaying
	}
	if err := s.track.Pause(); err != nil {
		return err
	}
	s.elapsed = s.track.Position()
	s.state = StatePaused
	e.emitLocked(e.stateEvent(s))
	return nil
}

// Resume continues a paused session, stopping the other one.
// If the output refuses, the session stays paused and an error event is
// published.
func (e *Engine) Resume(kind Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	s := e.sessions[kind]
	if s.state != StatePaused || s.track == nil {
		return ErrNotPaused
	}

	e.teardownLocked(e.sessions[kind.other()])

	if err := s.track.Play(); err != nil {
		cause := Classify(err)
		s.lastErr = err
		e.emitLocked(Event{
			Session:     kind,
			Type:        EventError,
			State:       StatePaused,
			EventID:     s.eventID,
			URL:         s.url,
			Err:         err,
			Cause:       cause,
			Recoverable: cause.Recoverable(),
			Elapsed:     s.elapsed,
			Duration:    s.length,
		})
		e.logger.Warn("resume failed", "session", kind, "cause", cause, "error", err)
		return err
	}

	s.state = StatePlaying
	e.emitLocked(e.stateEvent(s))
	return nil
}

// Stop stops a session and discards its source.
func (e *Engine) Stop(kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked(e.sessions[kind])
}

// StopAll stops both sessions.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		e.teardownLocked(s)
	}
}

// Busy reports whether either session is loading or playing.
// A paused session does not count.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.state == StateLoading || s.state == StatePlaying {
			return true
		}
	}
	return false
}

// Session returns a snapshot of a session.
func (e *Engine) Session(kind Kind) SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[kind]
	return SessionInfo{
		Kind:     s.kind,
		State:    s.state,
		EventID:  s.eventID,
		URL:      s.url,
		Elapsed:  s.elapsed,
		Duration: s.length,
		LastErr:  s.lastErr,
	}
}

// FallbackTone plays a short sine tone directly on the output, bypassing
// both sessions and the cache. It is used when an announcement cannot play.
func (e *Engine) FallbackTone() {
	e.mu.Lock()
	volume := e.volume * FallbackVolumeFactor
	if e.muted || e.closed {
		volume = 0
	}
	e.mu.Unlock()

	if volume == 0 {
		return
	}
	if err := e.out.Tone(FallbackFrequency, FallbackDuration, volume); err != nil {
		e.logger.Warn("failed to play fallback tone", "error", err)
	}
}

// SetVolume sets the master volume (clamped to 0..1) and applies it to the
// active sessions.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = clamp(v)
	e.applyVolumeLocked()
}

// Volume returns the master volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetMuted mutes or unmutes both sessions.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	e.applyVolumeLocked()
}

// Muted reports whether output is muted.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SetOffline forces cached sources to be preferred.
func (e *Engine) SetOffline(offline bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offline = offline
}

// Offline reports whether playback prefers cached sources, either because
// offline mode is set or the network is down.
func (e *Engine) Offline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offlineLocked()
}

// Close stops both sessions, waits for background work and closes Events.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	for _, s := range e.sessions {
		e.teardownLocked(s)
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	close(e.events)
	e.mu.Unlock()
}

func (e *Engine) offlineLocked() bool {
	if e.offline {
		return true
	}
	return e.opts.Network != nil && !e.opts.Network.Online()
}

func (e *Engine) effectiveVolumeLocked(kind Kind) float64 {
	if e.muted {
		return 0
	}
	if kind == KindTone {
		return e.volume * ToneVolumeFactor
	}
	return e.volume
}

func (e *Engine) applyVolumeLocked() {
	for _, s := range e.sessions {
		if s.track != nil {
			s.track.SetVolume(e.effectiveVolumeLocked(s.kind))
		}
	}
}

// teardownLocked stops s and invalidates pending results for it.
func (e *Engine) teardownLocked(s *session) {
	prev := s.state
	e.resetLocked(s)
	if prev != StateIdle {
		e.emitLocked(e.stateEvent(s))
	}
}

func (e *Engine) resetLocked(s *session) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.track != nil {
		s.track.Stop()
		s.track = nil
	}
	s.gen++
	s.state = StateIdle
	s.elapsed = 0
	s.length = 0
}

func (e *Engine) stateEvent(s *session) Event {
	return Event{
		Session:  s.kind,
		Type:     EventState,
		State:    s.state,
		EventID:  s.eventID,
		URL:      s.url,
		Elapsed:  s.elapsed,
		Duration: s.length,
	}
}

// emitLocked publishes ev without blocking. Progress is dropped silently
// when the channel is full, anything else is logged.
func (e *Engine) emitLocked(ev Event) {
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		if ev.Type != EventProgress {
			e.logger.Debug("playback event dropped", "session", ev.Session, "type", ev.Type, "state", ev.State)
		}
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IsInteractionRequired reports whether err means the output needs user action.
func IsInteractionRequired(err error) bool {
	return errors.Is(err, ErrInteractionRequired)
}
