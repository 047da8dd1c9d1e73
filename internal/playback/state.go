// Package playback drives the two audio sessions: announcements (primary)
// and the test tone. At most one session is ever playing.
package playback

import "time"

// State is the state of one session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Kind identifies a session.
type Kind int

const (
	KindPrimary Kind = iota
	KindTone
)

func (k Kind) String() string {
	if k == KindTone {
		return "tone"
	}
	return "primary"
}

func (k Kind) other() Kind {
	if k == KindTone {
		return KindPrimary
	}
	return KindTone
}

// EventType classifies an Event.
type EventType int

const (
	// EventState reports a state transition.
	EventState EventType = iota
	// EventProgress reports elapsed time while playing. Dropped when the channel is full.
	EventProgress
	// EventEnded reports natural end of playback. The session is idle afterwards.
	EventEnded
	// EventError reports a failure. The session is idle afterwards, except for
	// a failed resume which leaves it paused.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventProgress:
		return "progress"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is published on Engine.Events.
type Event struct {
	Session     Kind
	Type        EventType
	State       State
	EventID     string // primary session target
	URL         string
	Err         error
	Cause       Cause
	Recoverable bool
	Elapsed     time.Duration
	Duration    time.Duration
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	Kind     Kind
	State    State
	EventID  string
	URL      string
	Elapsed  time.Duration
	Duration time.Duration
	LastErr  error
}
