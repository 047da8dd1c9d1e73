package input

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/examcast/internal/model"
)

// DefaultOverrideTimeout bounds a single feed request.
const DefaultOverrideTimeout = 10 * time.Second

// OverrideClient fetches display-name overrides from a static JSON feed.
type OverrideClient struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewOverrideClient creates a client for url. An empty url disables fetching.
func NewOverrideClient(url string, timeout time.Duration, logger *slog.Logger) *OverrideClient {
	if timeout <= 0 {
		timeout = DefaultOverrideTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideClient{
		URL:     url,
		Client:  http.DefaultClient,
		Timeout: timeout,
		Logger:  logger,
	}
}

// Enabled reports whether a feed URL is configured.
func (c *OverrideClient) Enabled() bool {
	return c != nil && c.URL != ""
}

// Fetch downloads the override list.
func (c *OverrideClient) Fetch(ctx context.Context) ([]model.DisplayOverride, error) {
	if !c.Enabled() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, &AdapterError{Source: c.URL, Message: "invalid override feed url", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &AdapterError{Source: c.URL, Message: "failed to fetch overrides", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &AdapterError{
			Source:  c.URL,
			Message: fmt.Sprintf("override feed returned %s", resp.Status),
		}
	}

	var overrides []model.DisplayOverride
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&overrides); err != nil {
		return nil, &AdapterError{Source: c.URL, Message: "failed to decode overrides", Err: err}
	}
	return overrides, nil
}

// FetchOrWarn fetches overrides and logs a warning instead of failing.
func (c *OverrideClient) FetchOrWarn(ctx context.Context) []model.DisplayOverride {
	overrides, err := c.Fetch(ctx)
	if err != nil {
		c.Logger.Warn("display name overrides unavailable, keeping default names", "url", c.URL, "error", err)
		return nil
	}
	return overrides
}
