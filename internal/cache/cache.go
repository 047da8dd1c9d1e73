package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/examcast/internal/model"
)

// Defaults for Options.
const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 10 * time.Second
	DefaultBackoffUnit    = time.Second
)

// Metrics receives cache observations. A nil Metrics is ignored.
type Metrics interface {
	FetchAttempt(ok bool)
	FetchFailed()
	Resolved(hit bool)
}

// Options configures a Cache.
type Options struct {
	Attempts       int           // attempts per EnsureCached (default 3)
	AttemptTimeout time.Duration // bound on a single attempt (default 10s)
	BackoffUnit    time.Duration // wait after attempt n is n*BackoffUnit (default 1s)
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Metrics        Metrics
}

// Progress is called by WarmAll after each URL.
type Progress func(done, total int, url string, err error)

// Cache fetches audio once and serves it from the blob store afterwards.
type Cache struct {
	store   BlobStore
	fetcher Fetcher
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger

	group singleflight.Group

	// prune takes the write side so eviction never overlaps a read.
	pruneMu sync.RWMutex

	// baseCtx bounds shared fetches and background warms; Close cancels it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	warmWG     sync.WaitGroup
}

// New creates a Cache over store using fetcher.
func New(store BlobStore, fetcher Fetcher, opts Options) *Cache {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = DefaultBackoffUnit
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		store:      store,
		fetcher:    fetcher,
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// OpenDefault opens the SQLite store at path, falling back to memory with a
// single warning when the database cannot be opened.
func OpenDefault(path string, logger *slog.Logger) BlobStore {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := OpenSQLite(path)
	if err != nil {
		logger.Warn("audio cache database unavailable, caching in memory only", "path", path, "error", err)
		return NewMemoryStore()
	}
	return s
}

// EnsureCached makes sure the payload for url is stored.
// data: URLs and already cached URLs return immediately. Otherwise up to
// Attempts fetches are made; if all fail the entry is marked as an error and
// a single *FetchError is returned. Concurrent calls for one URL share a fetch.
// The shared fetch outlives any single caller; ctx only bounds the wait.
func (c *Cache) EnsureCached(ctx context.Context, url string) error {
	if url == "" || model.IsDataURL(url) {
		return nil
	}

	ch := c.group.DoChan(url, func() (any, error) {
		return nil, c.ensure(c.baseCtx, url)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) ensure(ctx context.Context, url string) error {
	if e, _, err := c.store.Get(ctx, url); err == nil && e.Status == StatusCached {
		return nil
	}

	pending := Entry{URL: url, Status: StatusPending, LastAccessed: c.clock.Now()}
	if err := c.store.Put(ctx, pending, nil); err != nil {
		c.logger.Debug("failed to record pending cache entry", "url", url, "error", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		data, contentType, err := c.fetchOnce(ctx, url)
		c.observeAttempt(err == nil)
		if err == nil {
			entry := Entry{
				URL:          url,
				Status:       StatusCached,
				LastAccessed: c.clock.Now(),
				Size:         int64(len(data)),
				SHA256:       digest(data),
				ContentType:  contentType,
				Attempts:     attempt,
			}
			if err := c.store.Put(ctx, entry, data); err != nil {
				// The payload was fetched but cannot be kept; resolve falls back to the URL.
				c.logger.Warn("failed to store cached audio", "url", url, "error", err)
				return err
			}
			c.logger.Debug("cached audio", "url", url, "bytes", len(data), "attempts", attempt)
			return nil
		}

		if ctx.Err() != nil {
			// Cache closed mid-fetch; the entry stays pending.
			return ctx.Err()
		}
		lastErr = err
		c.logger.Debug("audio fetch attempt failed", "url", url, "attempt", attempt, "error", err)

		if attempt == c.opts.Attempts {
			break
		}
		select {
		case <-c.clock.After(time.Duration(attempt) * c.opts.BackoffUnit):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.fail(ctx, url, c.opts.Attempts, lastErr)
}

func (c *Cache) fail(ctx context.Context, url string, attempts int, err error) error {
	entry := Entry{
		URL:          url,
		Status:       StatusError,
		LastAccessed: c.clock.Now(),
		Attempts:     attempts,
		LastError:    err.Error(),
	}
	if perr := c.store.Put(context.WithoutCancel(ctx), entry, nil); perr != nil {
		c.logger.Debug("failed to record cache error", "url", url, "error", perr)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.FetchFailed()
	}

	fetchErr := &FetchError{URL: url, Attempts: attempts, Err: err}
	c.logger.Warn("failed to cache audio", "url", url, "attempts", attempts, "error", err)
	return fetchErr
}

func (c *Cache) fetchOnce(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	data, ct, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyBody
	}
	return data, ct, nil
}

func (c *Cache) observeAttempt(ok bool) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.FetchAttempt(ok)
	}
}

// Resolve returns the cached payload for url, or the url itself when it is
// not cached or the store fails. It never returns an error.
// A hit refreshes the entry's LastAccessed.
func (c *Cache) Resolve(ctx context.Context, url string) model.AudioSource {
	src := model.AudioSource{URL: url}
	if url == "" || model.IsDataURL(url) {
		return src
	}

	c.pruneMu.RLock()
	defer c.pruneMu.RUnlock()

	e, payload, err := c.store.Get(ctx, url)
	hit := err == nil && e.Status == StatusCached && len(payload) > 0
	if c.opts.Metrics != nil {
		c.opts.Metrics.Resolved(hit)
	}
	if !hit {
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Debug("cache lookup failed, using origin", "url", url, "error", err)
		}
		return src
	}

	if err := c.store.Touch(ctx, url, c.clock.Now()); err != nil {
		c.logger.Debug("failed to refresh cache access time", "url", url, "error", err)
	}
	src.Data = payload
	return src
}

// Warm caches urls in the background. Failures are logged by EnsureCached.
func (c *Cache) Warm(urls []string) {
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] || model.IsDataURL(u) {
			continue
		}
		seen[u] = true

		c.warmWG.Add(1)
		go func(u string) {
			defer c.warmWG.Done()
			_ = c.EnsureCached(c.baseCtx, u)
		}(u)
	}
}

// Wait blocks until background warms have finished.
func (c *Cache) Wait() {
	c.warmWG.Wait()
}

// WarmAll caches urls one after another, reporting progress after each.
// It returns the number of URLs that failed.
func (c *Cache) WarmAll(ctx context.Context, urls []string, progress Progress) int {
	failed := 0
	for i, u := range urls {
		if ctx.Err() != nil {
			return failed + len(urls) - i
		}
		err := c.EnsureCached(ctx, u)
		if err != nil {
			failed++
		}
		if progress != nil {
			progress(i+1, len(urls), u, err)
		}
	}
	return failed
}

// Entries lists all cache entries.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	return c.store.List(ctx)
}

// Entry returns the entry for url.
func (c *Cache) Entry(ctx context.Context, url string) (Entry, error) {
	e, _, err := c.store.Get(ctx, url)
	return e, err
}

// Prune evicts least recently accessed cached entries until the total
// payload size is at most maxBytes. Non-positive maxBytes disables pruning.
// It returns the number of entries evicted.
func (c *Cache) Prune(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}

	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	entries, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	cached := entries[:0]
	for _, e := range entries {
		if e.Status == StatusCached {
			total += e.Size
			cached = append(cached, e)
		}
	}
	sort.SliceStable(cached, func(i, j int) bool {
		return cached[i].LastAccessed.Before(cached[j].LastAccessed)
	})

	evicted := 0
	for _, e := range cached {
		if total <= maxBytes {
			break
		}
		if err := c.store.Delete(ctx, e.URL); err != nil {
			return evicted, err
		}
		total -= e.Size
		evicted++
		c.logger.Debug("evicted cached audio", "url", e.URL, "bytes", e.Size)
	}
	return evicted, nil
}

// Close stops background warms and closes the store.
func (c *Cache) Close() error {
	c.baseCancel()
	c.warmWG.Wait()
	return c.store.Close()
}
