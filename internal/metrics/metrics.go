// Package metrics exposes announcer counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	cuesFired      *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	fetchFailures  prometheus.Counter
	cacheResolves  *prometheus.CounterVec
	playbackStarts *prometheus.CounterVec
	playbackErrors *prometheus.CounterVec
	online         prometheus.Gauge
	scheduled      prometheus.Gauge
	countdown      prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cuesFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "examcast_cues_fired_total", Help: "Cues started by autoplay"},
			[]string{"cue"},
		),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "examcast_cache_fetch_attempts_total", Help: "Audio fetch attempts"},
			[]string{"result"},
		),
		fetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "examcast_cache_fetch_failures_total", Help: "URLs that failed every attempt"},
		),
		cacheResolves: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "examcast_cache_resolves_total", Help: "Cache lookups before playback"},
			[]string{"result"},
		),
		playbackStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "examcast_playback_starts_total", Help: "Playback sessions that reached playing"},
			[]string{"session"},
		),
		playbackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "examcast_playback_errors_total", Help: "Playback failures by cause"},
			[]string{"cause"},
		),
		online: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "examcast_network_online", Help: "1 when the network is reported online"},
		),
		scheduled: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "examcast_events_scheduled", Help: "Events in the store"},
		),
		countdown: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "examcast_next_event_seconds", Help: "Seconds until the next event, 0 if none"},
		),
	}

	m.registry.MustRegister(
		m.cuesFired, m.fetchAttempts, m.fetchFailures, m.cacheResolves,
		m.playbackStarts, m.playbackErrors, m.online, m.scheduled, m.countdown,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CueFired counts an autoplayed cue.
func (m *Metrics) CueFired(cue string) {
	m.cuesFired.WithLabelValues(cue).Inc()
}

// FetchAttempt counts one fetch attempt.
func (m *Metrics) FetchAttempt(ok bool) {
	m.fetchAttempts.WithLabelValues(result(ok, "ok", "error")).Inc()
}

// FetchFailed counts a URL whose attempts were exhausted.
func (m *Metrics) FetchFailed() {
	m.fetchFailures.Inc()
}

// Resolved counts a cache lookup.
func (m *Metrics) Resolved(hit bool) {
	m.cacheResolves.WithLabelValues(result(hit, "hit", "miss")).Inc()
}

// PlaybackStarted counts a session reaching the playing state.
func (m *Metrics) PlaybackStarted(session string) {
	m.playbackStarts.WithLabelValues(session).Inc()
}

// PlaybackFailed counts a playback failure.
func (m *Metrics) PlaybackFailed(cause string) {
	m.playbackErrors.WithLabelValues(cause).Inc()
}

// SetOnline records network reachability.
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// SetSchedule records the event count and the countdown to the next event.
func (m *Metrics) SetSchedule(events int, countdown int64) {
	m.scheduled.Set(float64(events))
	m.countdown.Set(float64(countdown))
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics exposed", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
