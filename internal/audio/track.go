package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/jmylchreest/examcast/internal/playback"
)

var errTrackStopped = &playback.MediaError{Code: playback.MediaErrAborted, Err: errors.New("track stopped")}

// track is one decoded buffer queued on the speaker.
type track struct {
	dev    *Device
	buffer *beep.Buffer
	stream beep.StreamSeeker
	ctrl   *beep.Ctrl
	volume *effects.Volume

	mu      sync.Mutex
	started bool
	stopped bool

	done chan struct{}
	once sync.Once
}

func newTrack(d *Device, buf *beep.Buffer, volume float64) *track {
	stream := buf.Streamer(0, buf.Len())
	ctrl := &beep.Ctrl{Streamer: stream}
	return &track{
		dev:    d,
		buffer: buf,
		stream: stream,
		ctrl:   ctrl,
		volume: gain(ctrl, volume),
		done:   make(chan struct{}),
	}
}

// Play starts or resumes the track.
func (t *track) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return errTrackStopped
	}
	if t.started {
		speaker.Lock()
		t.ctrl.Paused = false
		speaker.Unlock()
		return nil
	}

	if err := t.dev.ensureInitialized(); err != nil {
		return err
	}

	var s beep.Streamer = t.volume
	if sr := t.buffer.Format().SampleRate; sr != t.dev.sampleRate {
		s = beep.Resample(4, sr, t.dev.sampleRate, s)
	}
	// The callback runs on the speaker goroutine with the speaker locked.
	speaker.Play(beep.Seq(s, beep.Callback(t.finish)))
	t.started = true
	return nil
}

func (t *track) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return errTrackStopped
	}
	speaker.Lock()
	t.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (t *track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.mu.Unlock()

	if started {
		speaker.Lock()
		t.ctrl.Streamer = nil
		speaker.Unlock()
	}
	t.finish()
}

func (t *track) SetVolume(v float64) {
	speaker.Lock()
	defer speaker.Unlock()
	t.volume.Volume = volumeExponent(v)
	t.volume.Silent = v <= 0
}

func (t *track) Position() time.Duration {
	speaker.Lock()
	pos := t.stream.Position()
	speaker.Unlock()
	return t.buffer.Format().SampleRate.D(pos)
}

func (t *track) Duration() time.Duration {
	return t.buffer.Format().SampleRate.D(t.buffer.Len())
}

func (t *track) Done() <-chan struct{} {
	return t.done
}

// Err is always nil: buffers are fully decoded before playback starts.
func (t *track) Err() error {
	return nil
}

func (t *track) finish() {
	t.once.Do(func() { close(t.done) })
}
