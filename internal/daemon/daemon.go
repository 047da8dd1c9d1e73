package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/examcast/internal/adapter/input"
	"github.com/jmylchreest/examcast/internal/audio"
	"github.com/jmylchreest/examcast/internal/cache"
	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/library"
	"github.com/jmylchreest/examcast/internal/metrics"
	"github.com/jmylchreest/examcast/internal/model"
	"github.com/jmylchreest/examcast/internal/netstatus"
	"github.com/jmylchreest/examcast/internal/playback"
	"github.com/jmylchreest/examcast/internal/scheduler"
	"github.com/jmylchreest/examcast/internal/store"
)

// ErrUnknownEvent is returned by Play for an id that is not scheduled.
var ErrUnknownEvent = errors.New("unknown event")

// Options configures a Daemon.
type Options struct {
	Config       *config.Config
	ConfigPath   string // watched for reloads, empty = default path
	Store        *store.Store
	EventsPath   string // watched for writes by other processes, empty = none
	Catalog      *library.Catalog
	ForceOffline bool

	// Overrides for tests. Nil values select the real implementations.
	Output      playback.Output
	Fetcher     cache.Fetcher
	BlobStore   cache.BlobStore
	AlertSender AlertSender

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Daemon runs the announcer: the trigger loop drives the playback engine
// while the cache, network monitor and watchers keep its inputs current.
type Daemon struct {
	logger *slog.Logger
	clock  clockwork.Clock

	store   *store.Store
	catalog *library.Catalog

	metrics   *metrics.Metrics
	network   *netstatus.Monitor
	cache     *cache.Cache
	device    *audio.Device
	engine    *playback.Engine
	loop      *scheduler.Loop
	alerter   *Alerter
	desktop   *DesktopSender
	overrides *input.OverrideClient

	audioWatcher  *audio.Watcher
	stateWatcher  *StateWatcher
	configWatcher *ConfigWatcher
	storeWatcher  *store.FileWatcher

	configPath   string
	eventsPath   string
	forceOffline bool

	mu          sync.Mutex
	cfg         *config.Config
	library     string
	offlineMode bool
	manual      map[string]bool // primary plays started by the operator
	psubs       []chan playback.Event
}

// New builds a Daemon. Nothing runs until Run is called.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon requires a store")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	catalog := opts.Catalog
	if catalog == nil {
		embedded, err := library.Embedded()
		if err != nil {
			return nil, fmt.Errorf("failed to load library catalog: %w", err)
		}
		catalog = embedded.WithLocation(cfg.Library.BaseURL, config.ExpandPath(cfg.Library.LocalDir))
	}

	d := &Daemon{
		logger:       logger,
		clock:        clock,
		store:        opts.Store,
		catalog:      catalog,
		metrics:      metrics.New(),
		configPath:   opts.ConfigPath,
		eventsPath:   opts.EventsPath,
		forceOffline: opts.ForceOffline,
		cfg:          cfg,
		manual:       make(map[string]bool),
	}
	d.network = netstatus.NewMonitor(logger, d.metrics)

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = cache.NewHTTPFetcher()
	}

	blobs := opts.BlobStore
	if blobs == nil {
		path := config.ExpandPath(cfg.Cache.Path)
		if path == "" {
			p, err := store.CachePath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve cache path: %w", err)
			}
			path = p
		}
		blobs = cache.OpenDefault(path, logger)
	}
	d.cache = cache.New(blobs, fetcher, cache.Options{
		Attempts:       cfg.Cache.Attempts,
		AttemptTimeout: cfg.Cache.AttemptTimeout.Duration(),
		BackoffUnit:    cfg.Cache.BackoffUnit.Duration(),
		Clock:          clock,
		Logger:         logger,
		Metrics:        d.metrics,
	})

	out := opts.Output
	if out == nil {
		d.device = audio.NewDevice(fetcher, logger)
		out = d.device
	}

	shared, err := store.LoadSharedState()
	if err != nil {
		logger.Warn("failed to load shared state, using config", "error", err)
		shared = store.DefaultSharedState()
	}
	d.library = d.validLibrary(shared.LibraryOr(cfg.Library.Selected))
	d.offlineMode = shared.OfflineOr(cfg.Playback.OfflineMode)

	d.engine = playback.NewEngine(out, playback.Options{
		LoadTimeout: cfg.Playback.LoadTimeout.Duration(),
		Volume:      cfg.VolumeFraction(),
		Muted:       mutedFor(cfg),
		Offline:     d.forceOffline || d.offlineMode,
		Clock:       clock,
		Logger:      logger,
		Metrics:     d.metrics,
		Resolver:    d.cache,
		Network:     d.network,
	})

	d.loop = scheduler.New(clock, d.store, autoplayer{d}, scheduler.Options{
		Window:   cfg.Schedule.FiringWindow.Duration(),
		Autoplay: shared.AutoplayOr(cfg.Schedule.Autoplay),
		OnFire:   d.onFire,
		Metrics:  d.metrics,
		Logger:   logger,
	})

	send := opts.AlertSender
	if send == nil && cfg.Alerts.Desktop {
		d.desktop = &DesktopSender{}
		send = d.desktop.Send
	}
	d.alerter = NewAlerter(send, cfg.Alerts.MinInterval.Duration(), clock, logger)
	d.alerter.SetEnabled(cfg.Alerts.Desktop || opts.AlertSender != nil)

	d.overrides = input.NewOverrideClient(cfg.Overrides.URL, cfg.Overrides.Timeout.Duration(), logger)

	if d.device != nil && cfg.Library.WatchLocal {
		d.audioWatcher = audio.NewWatcher(d.device, clock, logger)
	}

	return d, nil
}

// Run starts every component and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.config()

	d.startWatchers(ctx, cfg)
	defer d.stopWatchers()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.watchPlayback(gctx)
		return nil
	})

	netEvents := d.network.Subscribe()
	g.Go(func() error {
		for online := range netEvents {
			d.alerter.NetworkChanged(online)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.runNetwork(gctx, cfg); err != nil {
			d.logger.Warn("network status unavailable, assuming online", "error", err)
		}
		return nil
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			if err := d.metrics.Serve(gctx, cfg.Metrics.Addr, d.logger); err != nil {
				d.logger.Warn("metrics endpoint stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
			return nil
		})
	}

	changes := d.store.Subscribe()
	g.Go(func() error {
		d.refreshOverrides(gctx)
		d.warmSchedule(gctx, cfg)
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-changes:
				if !ok {
					return nil
				}
				if ev.Type == store.ChangeTypeAdd || ev.Type == store.ChangeTypeReload || ev.Type == store.ChangeTypeReplace {
					d.warmSchedule(gctx, cfg)
				}
			}
		}
	})

	g.Go(func() error {
		defer d.store.Unsubscribe(changes)
		defer d.network.Close()
		err := d.loop.Run(gctx)
		d.engine.StopAll()
		return err
	})

	d.logger.Info("announcer running",
		"events", d.store.Count(),
		"library", d.Library(),
		"autoplay", d.loop.Autoplay(),
		"offline", d.engine.Offline())

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) startWatchers(ctx context.Context, cfg *config.Config) {
	if d.eventsPath != "" {
		w, err := store.NewFileWatcher(d.store, d.eventsPath, d.logger)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			d.logger.Warn("failed to watch event file, changes by other processes need a restart", "error", err)
		} else {
			d.storeWatcher = w
		}
	}

	if d.audioWatcher != nil {
		n := d.audioWatcher.Watch(d.audioURLs()...)
		d.audioWatcher.Start(ctx)
		d.logger.Debug("watching local audio files", "count", n)
	}

	if path, err := store.StateFilePath(); err == nil {
		d.stateWatcher = NewStateWatcher(path, d.clock, d.logger)
		d.stateWatcher.Start(ctx, d.applySharedState)
	}

	d.configWatcher = NewConfigWatcher(d.configPath, d.clock, d.logger)
	d.configWatcher.Start(ctx, cfg, d.applyConfig, func(err error) {
		d.alerter.ConfigError(err)
	})
}

func (d *Daemon) stopWatchers() {
	if d.storeWatcher != nil {
		if err := d.storeWatcher.Stop(); err != nil {
			d.logger.Debug("failed to stop event file watcher", "error", err)
		}
	}
	if d.audioWatcher != nil {
		d.audioWatcher.Stop()
	}
	if d.stateWatcher != nil {
		d.stateWatcher.Stop()
	}
	if d.configWatcher != nil {
		d.configWatcher.Stop()
	}
}

func (d *Daemon) runNetwork(ctx context.Context, cfg *config.Config) error {
	mode, err := netstatus.ParseMode(cfg.Network.Mode)
	if err != nil {
		return err
	}

	probeURL := cfg.Network.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Library.BaseURL
	}
	var probe netstatus.Source
	if probeURL != "" {
		probe = &netstatus.Probe{
			URL:      probeURL,
			Interval: cfg.Network.ProbeInterval.Duration(),
			Clock:    d.clock,
			Logger:   d.logger,
		}
	}

	switch mode {
	case netstatus.ModeProbe:
		return d.network.Run(ctx, mode, probe)
	case netstatus.ModeAuto:
		return d.network.Run(ctx, mode, netstatus.NewNetworkManager(d.logger), probe)
	default:
		return d.network.Run(ctx, mode)
	}
}

// autoplayer is the loop's view of the engine.
type autoplayer struct{ d *Daemon }

func (p autoplayer) Busy() bool {
	return p.d.engine.Busy()
}

func (p autoplayer) Play(ctx context.Context, eventID, url string) error {
	p.d.takeManual(eventID)
	return p.d.engine.Play(ctx, eventID, url)
}

// onFire runs on the loop goroutine after an autoplay start. Failures that
// happen later, while loading, arrive through watchPlayback.
func (d *Daemon) onFire(e model.ExamEvent, err error) {
	if err != nil {
		d.cueFailed(e, playback.Classify(err))
	}
}

// watchPlayback fans engine events out to subscribers and handles failed
// autoplayed cues until ctx is done or the engine is closed.
func (d *Daemon) watchPlayback(ctx context.Context) {
	defer d.closePlaybackSubscribers()

	events := d.engine.Events()
	for {
		var ev playback.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}

		if ev.Session == playback.KindPrimary && ev.EventID != "" {
			switch ev.Type {
			case playback.EventEnded:
				d.takeManual(ev.EventID)
			case playback.EventError:
				if d.takeManual(ev.EventID) || !d.loop.Fired(ev.EventID) {
					break
				}
				if e, ok := d.store.Get(ev.EventID); ok {
					d.cueFailed(e, ev.Cause)
				}
			}
		}
		d.publishPlayback(ev)
	}
}

func (d *Daemon) takeManual(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := d.manual[id]
	delete(d.manual, id)
	return ok
}

// cueFailed substitutes the fallback tone for a missed announcement and
// alerts the operator. Interaction-required failures only alert, since a
// manual retry will play the real audio.
func (d *Daemon) cueFailed(e model.ExamEvent, cause playback.Cause) {
	d.logger.Warn("announcement failed",
		"id", e.ID,
		"subject", e.Subject,
		"cue", e.Cue,
		"cause", cause)

	if !cause.Recoverable() && d.config().Playback.FallbackTone {
		go d.engine.FallbackTone()
	}
	d.alerter.CueFailed(e.Subject, e.Label(), cause.Message())
}

func (d *Daemon) refreshOverrides(ctx context.Context) {
	if !d.overrides.Enabled() {
		return
	}
	overrides := d.overrides.FetchOrWarn(ctx)
	if len(overrides) == 0 {
		return
	}
	changed, err := d.store.ApplyDisplayNames(overrides)
	if err != nil {
		d.logger.Warn("failed to save display names", "error", err)
		return
	}
	if changed > 0 {
		d.logger.Info("applied display name overrides", "events", changed)
	}
}

func (d *Daemon) warmSchedule(ctx context.Context, cfg *config.Config) {
	urls := d.audioURLs()
	d.cache.Warm(urls)
	if d.audioWatcher != nil {
		d.audioWatcher.Watch(urls...)
	}

	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil || maxBytes <= 0 {
		return
	}
	go func() {
		d.cache.Wait()
		evicted, err := d.cache.Prune(ctx, maxBytes)
		if err != nil {
			d.logger.Warn("failed to prune audio cache", "error", err)
			return
		}
		if evicted > 0 {
			d.logger.Info("pruned audio cache", "evicted", evicted)
		}
	}()
}

// audioURLs lists the scheduled audio plus the tuning tone.
func (d *Daemon) audioURLs() []string {
	events := d.store.Events()
	urls := make([]string, 0, len(events)+1)
	for _, e := range events {
		urls = append(urls, e.AudioFile)
	}
	if u, err := d.catalog.Resolve(model.CueTuning, d.Library()); err == nil {
		urls = append(urls, u)
	}
	return urls
}

func (d *Daemon) applySharedState(state *store.SharedState) {
	cfg := d.config()

	offline := state.OfflineOr(cfg.Playback.OfflineMode)
	d.loop.SetAutoplay(state.AutoplayOr(cfg.Schedule.Autoplay))
	d.engine.SetOffline(d.forceOffline || offline)

	lib := d.validLibrary(state.LibraryOr(cfg.Library.Selected))
	d.mu.Lock()
	d.library = lib
	d.offlineMode = offline
	d.mu.Unlock()

	d.logger.Debug("applied shared state",
		"autoplay", d.loop.Autoplay(),
		"offline", d.engine.Offline(),
		"library", lib)
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.engine.SetVolume(cfg.VolumeFraction())
	d.engine.SetMuted(mutedFor(cfg))
	d.alerter.SetEnabled(cfg.Alerts.Desktop)
}

func (d *Daemon) config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Daemon) validLibrary(id string) string {
	if d.catalog.Has(id) {
		return id
	}
	if id != "" {
		d.logger.Warn("unknown library, using default", "library", id, "default", d.catalog.Default())
	}
	return d.catalog.Default()
}

// mutedFor treats a zero volume as muted.
func mutedFor(cfg *config.Config) bool {
	return cfg.Audio.Muted || cfg.Audio.Volume == 0
}

// Close releases the engine, cache and audio device.
func (d *Daemon) Close() error {
	d.engine.Close()
	err := d.cache.Close()
	if d.device != nil {
		d.device.Close()
	}
	if d.desktop != nil {
		_ = d.desktop.Close()
	}
	return err
}

// Events returns the current schedule.
func (d *Daemon) Events() []model.ExamEvent {
	return d.store.Events()
}

// Snapshots returns a channel carrying the latest loop snapshot after every
// tick. It is closed when Run returns.
func (d *Daemon) Snapshots() <-chan scheduler.Snapshot {
	return d.loop.Subscribe()
}

// Snapshot returns the most recent loop snapshot.
func (d *Daemon) Snapshot() scheduler.Snapshot {
	return d.loop.Last()
}

// PlaybackEvents returns a channel carrying engine events. Slow readers
// miss events rather than stall the engine.
func (d *Daemon) PlaybackEvents() <-chan playback.Event {
	ch := make(chan playback.Event, 32)
	d.mu.Lock()
	d.psubs = append(d.psubs, ch)
	d.mu.Unlock()
	return ch
}

func (d *Daemon) publishPlayback(ev playback.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.psubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (d *Daemon) closePlaybackSubscribers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.psubs {
		close(ch)
	}
	d.psubs = nil
}

// Play starts or toggles the announcement for the event with id.
func (d *Daemon) Play(ctx context.Context, id string) error {
	e, ok := d.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	d.mu.Lock()
	d.manual[e.ID] = true
	d.mu.Unlock()
	return d.engine.Play(ctx, e.ID, e.AudioFile)
}

// PlayTone starts or toggles the tuning tone of the selected library.
func (d *Daemon) PlayTone(ctx context.Context) error {
	u, err := d.catalog.Resolve(model.CueTuning, d.Library())
	if err != nil {
		return err
	}
	return d.engine.PlayTone(ctx, u)
}

// Pause pauses a session.
func (d *Daemon) Pause(kind playback.Kind) error {
	return d.engine.Pause(kind)
}

// Resume resumes a paused session.
func (d *Daemon) Resume(kind playback.Kind) error {
	return d.engine.Resume(kind)
}

// Stop stops both sessions.
func (d *Daemon) Stop() {
	d.engine.StopAll()
}

// FallbackTone plays the synthesized tone.
func (d *Daemon) FallbackTone() {
	d.engine.FallbackTone()
}

// Session returns the state of a session.
func (d *Daemon) Session(kind playback.Kind) playback.SessionInfo {
	return d.engine.Session(kind)
}

// Autoplay reports whether the loop fires cues.
func (d *Daemon) Autoplay() bool {
	return d.loop.Autoplay()
}

// SetAutoplay toggles autoplay and records it for other examcast processes.
func (d *Daemon) SetAutoplay(enabled bool) error {
	d.loop.SetAutoplay(enabled)
	return d.saveState(func(s *store.SharedState) { s.SetAutoplay(enabled) })
}

// Offline reports whether cached audio is preferred, either by offline
// mode or because the network is down.
func (d *Daemon) Offline() bool {
	return d.engine.Offline()
}

// OfflineMode reports whether offline mode is switched on.
func (d *Daemon) OfflineMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forceOffline || d.offlineMode
}

// SetOffline toggles offline mode and records it for other examcast processes.
func (d *Daemon) SetOffline(offline bool) error {
	d.mu.Lock()
	d.offlineMode = offline
	d.mu.Unlock()
	d.engine.SetOffline(d.forceOffline || offline)
	return d.saveState(func(s *store.SharedState) { s.SetOffline(offline) })
}

// Online reports network reachability.
func (d *Daemon) Online() bool {
	return d.network.Online()
}

// Library returns the selected library id.
func (d *Daemon) Library() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.library
}

// Metrics returns the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

func (d *Daemon) saveState(update func(*store.SharedState)) error {
	state, err := store.LoadSharedState()
	if err != nil {
		state = store.DefaultSharedState()
	}
	update(state)
	if err := store.SaveSharedState(state); err != nil {
		return fmt.Errorf("failed to save shared state: %w", err)
	}
	return nil
}
