package playback

import (
	"context"
	"time"

	"github.com/jmylchreest/examcast/internal/model"
)

// Output loads sources into playable tracks.
type Output interface {
	// Load prepares src for playback at volume (0..1) without starting it.
	// It must honour ctx cancellation.
	Load(ctx context.Context, src model.AudioSource, volume float64) (Track, error)

	// Tone plays a sine tone and returns once it has been scheduled.
	Tone(freq float64, d time.Duration, volume float64) error
}

// Track is one loaded source.
type Track interface {
	Play() error
	Pause() error
	// Stop releases the track. It is safe to call more than once.
	Stop()
	SetVolume(volume float64)
	Position() time.Duration
	Duration() time.Duration
	// Done is closed when playback ends or fails; Err tells which.
	Done() <-chan struct{}
	Err() error
}

// Resolver returns a locally playable source for a URL when one is cached.
type Resolver interface {
	Resolve(ctx context.Context, url string) model.AudioSource
}

// Online reports network reachability.
type Online interface {
	Online() bool
}

// Metrics receives playback observations. A nil Metrics is ignored.
type Metrics interface {
	PlaybackStarted(session string)
	PlaybackFailed(cause string)
}
