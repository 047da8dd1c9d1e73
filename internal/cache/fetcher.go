package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher retrieves the payload for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// ErrEmptyBody is returned when a fetch succeeds with zero bytes.
var ErrEmptyBody = errors.New("empty response body")

// HTTPStatusError reports a non-2xx HTTP response.
type HTTPStatusError struct {
	Code   int
	Status string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected status " + e.Status
}

// ErrPayloadTooLarge is returned when a response exceeds the download limit.
var ErrPayloadTooLarge = errors.New("response body too large")

// maxPayload bounds a single audio download.
const maxPayload = 64 << 20

// HTTPFetcher fetches http(s) URLs, file:// URLs and absolute file paths.
type HTTPFetcher struct {
	Client *http.Client

	// MaxBytes bounds one HTTP response body. Zero means 64 MiB.
	MaxBytes int64
}

// NewHTTPFetcher creates a fetcher using http.DefaultClient.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if path, ok := localPath(rawURL); ok {
		return readFile(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "audio/*,*/*;q=0.9")
	req.Header.Set("Cache-Control", "no-store")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &HTTPStatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = maxPayload
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyBody
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func localPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if filepath.IsAbs(rawURL) {
		return rawURL, true
	}
	return "", false
}

func readFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyBody
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}
