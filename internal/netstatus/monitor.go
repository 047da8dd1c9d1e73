// Package netstatus tracks whether the audio origin is reachable.
package netstatus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Mode selects how reachability is determined.
type Mode string

const (
	// ModeAuto observes NetworkManager, falling back to an HTTP probe.
	ModeAuto Mode = "auto"
	// ModeProbe only uses the HTTP probe.
	ModeProbe Mode = "probe"
	// ModeOnline always reports online.
	ModeOnline Mode = "online"
	// ModeOffline always reports offline.
	ModeOffline Mode = "offline"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeProbe, ModeOnline, ModeOffline:
		return m, nil
	}
	return "", fmt.Errorf("unknown network mode: %q (valid: auto, probe, online, offline)", s)
}

// Source reports reachability changes until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, report func(online bool)) error
}

// Metrics receives reachability changes. A nil Metrics is ignored.
type Metrics interface {
	SetOnline(online bool)
}

// Monitor holds the current reachability and notifies subscribers when it
// changes. It starts online.
type Monitor struct {
	online  atomic.Bool
	logger  *slog.Logger
	metrics Metrics

	mu          sync.Mutex
	subscribers []chan bool
}

// NewMonitor creates a Monitor that reports online until told otherwise.
func NewMonitor(logger *slog.Logger, metrics Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{logger: logger, metrics: metrics}
	m.online.Store(true)
	if metrics != nil {
		metrics.SetOnline(true)
	}
	return m
}

// Online reports the current reachability.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set records a reachability observation. Only transitions are logged and
// published.
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info("network online")
	} else {
		m.logger.Warn("network offline, cached audio will be used")
	}
	if m.metrics != nil {
		m.metrics.SetOnline(online)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe returns a channel receiving each transition.
func (m *Monitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 4)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Run drives the monitor from mode until ctx is done.
// Forced modes set the state once and return. In auto mode a source that
// fails to start is replaced by the next one.
func (m *Monitor) Run(ctx context.Context, mode Mode, sources ...Source) error {
	switch mode {
	case ModeOnline:
		m.Set(true)
		return nil
	case ModeOffline:
		m.Set(false)
		return nil
	}

	var lastErr error
	for _, src := range sources {
		if src == nil {
			continue
		}
		m.logger.Debug("watching network status", "source", src.Name())
		err := src.Run(ctx, m.Set)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.logger.Debug("network status source unavailable", "source", src.Name(), "error", err)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("no network status source available: %w", lastErr)
	}
	return nil
}

// Close closes all subscriber channels.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
}
