package playback

import (
	"context"
	"errors"
	"fmt"
)

// Cause is the coarse reason a playback failed.
type Cause string

const (
	CauseNone                Cause = ""
	CauseAborted             Cause = "aborted"
	CauseNetwork             Cause = "network"
	CauseDecode              Cause = "decode"
	CauseUnsupported         Cause = "unsupported"
	CauseInteractionRequired Cause = "interaction-required"
	CauseTimeout             Cause = "timeout"
	CauseUnknown             Cause = "unknown"
)

// Media error codes.
const (
	MediaErrAborted     = 1
	MediaErrNetwork     = 2
	MediaErrDecode      = 3
	MediaErrUnsupported = 4
)

// MediaError is reported by an Output for a source it cannot play.
type MediaError struct {
	Code int
	Err  error
}

func (e *MediaError) Error() string {
	msg := "media error"
	switch e.Code {
	case MediaErrAborted:
		msg = "playback aborted"
	case MediaErrNetwork:
		msg = "network error while loading audio"
	case MediaErrDecode:
		msg = "audio could not be decoded"
	case MediaErrUnsupported:
		msg = "audio format not supported"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// Sentinel errors.
var (
	// ErrInteractionRequired is returned when the output device refused to
	// start. Retrying after user action may succeed.
	ErrInteractionRequired = errors.New("audio output unavailable, user interaction required")
	// ErrLoadTimeout is returned when loading does not finish in time.
	ErrLoadTimeout = errors.New("audio load timed out")
	// ErrNotPlaying is returned by Pause when nothing is playing.
	ErrNotPlaying = errors.New("session is not playing")
	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("session is not paused")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("playback engine closed")
)

// Classify maps an error to its Cause.
func Classify(err error) Cause {
	if err == nil {
		return CauseNone
	}
	var me *MediaError
	if errors.As(err, &me) {
		switch me.Code {
		case MediaErrAborted:
			return CauseAborted
		case MediaErrNetwork:
			return CauseNetwork
		case MediaErrDecode:
			return CauseDecode
		case MediaErrUnsupported:
			return CauseUnsupported
		}
	}
	switch {
	case errors.Is(err, ErrInteractionRequired):
		return CauseInteractionRequired
	case errors.Is(err, ErrLoadTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseAborted
	}
	return CauseUnknown
}

// Recoverable reports whether retrying after user action may succeed.
func (c Cause) Recoverable() bool {
	return c == CauseInteractionRequired
}

// Message is a short operator-facing description.
func (c Cause) Message() string {
	switch c {
	case CauseAborted:
		return "playback was aborted"
	case CauseNetwork:
		return "network error, check the connection or enable offline mode"
	case CauseDecode:
		return "the audio file is damaged or could not be decoded"
	case CauseUnsupported:
		return "the audio format is not supported"
	case CauseInteractionRequired:
		return "the audio device is not ready, press play to retry"
	case CauseTimeout:
		return "loading the audio took too long"
	default:
		return "playback failed"
	}
}
