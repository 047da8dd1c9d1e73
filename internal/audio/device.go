// Package audio plays announcement audio through the system speaker.
// It decodes WAV, OGG and MP3 with the beep library and keeps decoded
// buffers so repeated announcements do not hit the network.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/jmylchreest/examcast/internal/cache"
	"github.com/jmylchreest/examcast/internal/model"
	"github.com/jmylchreest/examcast/internal/playback"
)

// DefaultSampleRate is the speaker rate; sources at other rates are resampled.
const DefaultSampleRate = beep.SampleRate(44100)

// Device is a playback.Output backed by the speaker.
type Device struct {
	mu          sync.Mutex
	logger      *slog.Logger
	fetcher     cache.Fetcher
	sampleRate  beep.SampleRate
	initialized bool

	// Decoded sounds keyed by source URL.
	sounds   map[string]*beep.Buffer
	soundsMu sync.RWMutex
}

// NewDevice creates a Device that fetches uncached sources with fetcher.
// The speaker is opened on first playback.
func NewDevice(fetcher cache.Fetcher, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if fetcher == nil {
		fetcher = cache.NewHTTPFetcher()
	}
	return &Device{
		logger:     logger,
		fetcher:    fetcher,
		sampleRate: DefaultSampleRate,
		sounds:     make(map[string]*beep.Buffer),
	}
}

// Load implements playback.Output.
func (d *Device) Load(ctx context.Context, src model.AudioSource, volume float64) (playback.Track, error) {
	if buf := d.cached(src.URL); buf != nil {
		return newTrack(d, buf, volume), nil
	}

	data, contentType, err := d.payload(ctx, src)
	if err != nil {
		return nil, err
	}

	format := detectFormat(src.URL, contentType, data)
	if format == "" {
		return nil, &playback.MediaError{Code: playback.MediaErrUnsupported, Err: fmt.Errorf("unrecognised audio in %s", describe(src.URL))}
	}

	buf, err := decode(format, data)
	if err != nil {
		return nil, &playback.MediaError{Code: playback.MediaErrDecode, Err: err}
	}

	if src.URL != "" && !model.IsDataURL(src.URL) {
		d.soundsMu.Lock()
		d.sounds[src.URL] = buf
		d.soundsMu.Unlock()
	}
	d.logger.Debug("decoded audio", "url", describe(src.URL), "format", format, "duration", buf.Format().SampleRate.D(buf.Len()))

	return newTrack(d, buf, volume), nil
}

func (d *Device) payload(ctx context.Context, src model.AudioSource) ([]byte, string, error) {
	if len(src.Data) > 0 {
		return src.Data, "", nil
	}
	if model.IsDataURL(src.URL) {
		data, mediaType, err := parseDataURL(src.URL)
		if err != nil {
			return nil, "", &playback.MediaError{Code: playback.MediaErrUnsupported, Err: err}
		}
		return data, mediaType, nil
	}
	if src.URL == "" {
		return nil, "", &playback.MediaError{Code: playback.MediaErrUnsupported, Err: errors.New("no audio source")}
	}

	data, contentType, err := d.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		var statusErr *cache.HTTPStatusError
		if errors.As(err, &statusErr) || errors.Is(err, fs.ErrNotExist) {
			return nil, "", &playback.MediaError{Code: playback.MediaErrUnsupported, Err: err}
		}
		return nil, "", &playback.MediaError{Code: playback.MediaErrNetwork, Err: err}
	}
	return data, contentType, nil
}

func (d *Device) cached(key string) *beep.Buffer {
	if key == "" {
		return nil
	}
	d.soundsMu.RLock()
	defer d.soundsMu.RUnlock()
	return d.sounds[key]
}

// InvalidateCache drops the decoded sound for key.
func (d *Device) InvalidateCache(key string) {
	d.soundsMu.Lock()
	defer d.soundsMu.Unlock()
	delete(d.sounds, key)
}

// ClearCache drops all decoded sounds.
func (d *Device) ClearCache() {
	d.soundsMu.Lock()
	defer d.soundsMu.Unlock()
	d.sounds = make(map[string]*beep.Buffer)
}

// Tone implements playback.Output.
func (d *Device) Tone(freq float64, dur time.Duration, volume float64) error {
	if err := d.ensureInitialized(); err != nil {
		return err
	}
	sine, err := generators.SineTone(d.sampleRate, freq)
	if err != nil {
		return fmt.Errorf("failed to generate tone: %w", err)
	}
	speaker.Play(gain(beep.Take(d.sampleRate.N(dur), sine), volume))
	return nil
}

// ensureInitialized opens the speaker if not already done.
// A device that cannot be opened is reported as ErrInteractionRequired so
// the operator can retry once audio is available.
func (d *Device) ensureInitialized() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Use a reasonable buffer size for low latency
	if err := speaker.Init(d.sampleRate, d.sampleRate.N(100*time.Millisecond)); err != nil {
		return fmt.Errorf("%w: %v", playback.ErrInteractionRequired, err)
	}

	d.initialized = true
	d.logger.Debug("speaker initialized", "sample_rate", d.sampleRate)
	return nil
}

// Close stops all playback and releases the speaker.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		speaker.Clear()
		speaker.Close()
		d.initialized = false
	}

	d.ClearCache()
	d.logger.Debug("audio device closed")
}

// gain wraps s in a volume effect for a linear volume in 0..1.
func gain(s beep.Streamer, volume float64) *effects.Volume {
	return &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   volumeExponent(volume),
		Silent:   volume <= 0,
	}
}

// volumeExponent converts a linear volume to a base-2 exponent: 0.5 is -1.
func volumeExponent(volume float64) float64 {
	if volume <= 0 {
		return -10
	}
	if volume >= 1 {
		return 0
	}
	return math.Log2(volume)
}

// describe shortens data URLs for logs and errors.
func describe(u string) string {
	if model.IsDataURL(u) {
		return "data URL"
	}
	return u
}
