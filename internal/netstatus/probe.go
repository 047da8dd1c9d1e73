package netstatus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for Probe.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Probe polls a URL with HEAD requests. Any HTTP response counts as
// reachable; transport errors count as unreachable.
type Probe struct {
	URL      string
	Client   *http.Client
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Name implements Source.
func (p *Probe) Name() string {
	return "probe"
}

// Run implements Source.
func (p *Probe) Run(ctx context.Context, report func(bool)) error {
	if p.URL == "" {
		return errors.New("no probe URL configured")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	report(p.Check(ctx))

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			report(p.Check(ctx))
		}
	}
}

// Check performs one probe.
func (p *Probe) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-store")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Debug("network probe failed", "url", p.URL, "error", err)
		}
		return false
	}
	_ = resp.Body.Close()
	return true
}
