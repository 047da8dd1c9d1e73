package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher fails the first failures calls, then returns payload.
type scriptedFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
	payload  []byte
	delay    time.Duration
}

func newScriptedFetcher(failures int, payload []byte) *scriptedFetcher {
	return &scriptedFetcher{calls: make(map[string]int), failures: failures, payload: payload}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if n <= f.failures {
		return nil, "", errors.New("connection refused")
	}
	return f.payload, "audio/mpeg", nil
}

func (f *scriptedFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type countingMetrics struct {
	attempts, okAttempts, failed, hits, misses atomic.Int32
}

func (m *countingMetrics) FetchAttempt(ok bool) {
	m.attempts.Add(1)
	if ok {
		m.okAttempts.Add(1)
	}
}
func (m *countingMetrics) FetchFailed() { m.failed.Add(1) }
func (m *countingMetrics) Resolved(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func fastOptions() Options {
	return Options{BackoffUnit: time.Millisecond, AttemptTimeout: time.Second}
}

const testURL = "https://cdn.example.org/start_exam.mp3"

func TestEnsureCached_AlwaysFailing(t *testing.T) {
	f := newScriptedFetcher(100, []byte("mp3"))
	m := &countingMetrics{}
	opts := fastOptions()
	opts.Metrics = m
	c := New(NewMemoryStore(), f, opts)
	defer c.Close()

	err := c.EnsureCached(context.Background(), testURL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, testURL, fetchErr.URL)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, 3, f.count(testURL))

	e, err := c.Entry(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, 3, e.Attempts)
	assert.Contains(t, e.LastError, "connection refused")

	assert.Equal(t, int32(3), m.attempts.Load())
	assert.Equal(t, int32(1), m.failed.Load())
}

func TestEnsureCached_SucceedsOnSecondAttempt(t *testing.T) {
	f := newScriptedFetcher(1, []byte("mp3-bytes"))
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	require.NoError(t, c.EnsureCached(context.Background(), testURL))
	assert.Equal(t, 2, f.count(testURL))

	e, err := c.Entry(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, e.Status)
	assert.Equal(t, 2, e.Attempts)
	assert.Equal(t, int64(9), e.Size)
	assert.Equal(t, digest([]byte("mp3-bytes")), e.SHA256)
	assert.Equal(t, "audio/mpeg", e.ContentType)
}

func TestEnsureCached_AlreadyCachedDoesNotFetch(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	require.NoError(t, c.EnsureCached(context.Background(), testURL))
	require.NoError(t, c.EnsureCached(context.Background(), testURL))
	assert.Equal(t, 1, f.count(testURL))
}

func TestEnsureCached_ZeroBytesIsFailure(t *testing.T) {
	f := newScriptedFetcher(0, []byte{})
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	err := c.EnsureCached(context.Background(), testURL)
	assert.ErrorIs(t, err, ErrEmptyBody)
	assert.Equal(t, 3, f.count(testURL))
}

func TestEnsureCached_DataURLBypasses(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	store := NewMemoryStore()
	c := New(store, f, fastOptions())
	defer c.Close()

	u := "data:audio/wav;base64,AAAA"
	require.NoError(t, c.EnsureCached(context.Background(), u))
	assert.Zero(t, f.count(u))

	entries, err := c.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, u, c.Resolve(context.Background(), u).URL)
}

func TestEnsureCached_ConcurrentCallsShareFetch(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	f.delay = 50 * time.Millisecond
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsureCached(context.Background(), testURL))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.count(testURL))
}

func TestEnsureCached_CallerCancelDoesNotFailOthers(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	f.delay = 200 * time.Millisecond
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = c.EnsureCached(short, testURL)
	}()
	go func() {
		defer wg.Done()
		errB = c.EnsureCached(context.Background(), testURL)
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	require.NoError(t, errB)
	assert.Equal(t, 1, f.count(testURL))

	e, err := c.Entry(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, e.Status)
	assert.Equal(t, 1, e.Attempts)
}

func TestEnsureCached_CloseLeavesEntryPending(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	f.delay = time.Second
	store := NewMemoryStore()
	c := New(store, f, fastOptions())
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.EnsureCached(context.Background(), testURL) }()

	require.Eventually(t, func() bool { return f.count(testURL) == 1 }, time.Second, 5*time.Millisecond)
	c.baseCancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("EnsureCached did not return after cancel")
	}

	e, _, err := store.Get(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Empty(t, e.LastError)
}

func TestResolve(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 20, 8, 0, 0, 0, time.UTC))
	f := newScriptedFetcher(0, []byte("mp3"))
	m := &countingMetrics{}
	opts := fastOptions()
	opts.Clock = clock
	opts.Metrics = m
	c := New(NewMemoryStore(), f, opts)
	defer c.Close()

	ctx := context.Background()

	miss := c.Resolve(ctx, testURL)
	assert.Equal(t, testURL, miss.URL)
	assert.Nil(t, miss.Data)
	assert.False(t, miss.Local())

	require.NoError(t, c.EnsureCached(ctx, testURL))
	clock.Advance(time.Hour)

	hit := c.Resolve(ctx, testURL)
	assert.Equal(t, []byte("mp3"), hit.Data)
	assert.True(t, hit.Local())

	e, err := c.Entry(ctx, testURL)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), e.LastAccessed)

	assert.Equal(t, int32(1), m.hits.Load())
	assert.Equal(t, int32(1), m.misses.Load())
}

func TestResolve_UnreachableReturnsOrigin(t *testing.T) {
	f := newScriptedFetcher(100, nil)
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	_ = c.EnsureCached(context.Background(), testURL)
	src := c.Resolve(context.Background(), testURL)
	assert.Equal(t, testURL, src.URL)
	assert.Nil(t, src.Data)
}

type brokenStore struct{ *MemoryStore }

func (b *brokenStore) Get(context.Context, string) (Entry, []byte, error) {
	return Entry{}, nil, errors.New("database is locked")
}

func TestResolve_StoreErrorReturnsOrigin(t *testing.T) {
	c := New(&brokenStore{NewMemoryStore()}, newScriptedFetcher(0, nil), fastOptions())
	defer c.Close()

	src := c.Resolve(context.Background(), testURL)
	assert.Equal(t, testURL, src.URL)
	assert.Nil(t, src.Data)
}

func TestWarmAndWait(t *testing.T) {
	f := newScriptedFetcher(0, []byte("mp3"))
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	urls := []string{"https://a/1.mp3", "https://a/2.mp3", "https://a/1.mp3", "data:audio/wav;base64,AA"}
	c.Warm(urls)
	c.Wait()

	assert.Equal(t, 1, f.count("https://a/1.mp3"))
	assert.Equal(t, 1, f.count("https://a/2.mp3"))

	entries, err := c.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWarmAll_Progress(t *testing.T) {
	f := &urlFetcher{bad: "https://a/bad.mp3"}
	c := New(NewMemoryStore(), f, fastOptions())
	defer c.Close()

	var calls []int
	failed := c.WarmAll(context.Background(), []string{"https://a/1.mp3", "https://a/bad.mp3", "https://a/2.mp3"},
		func(done, total int, url string, err error) {
			assert.Equal(t, 3, total)
			calls = append(calls, done)
			if url == "https://a/bad.mp3" {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	assert.Equal(t, 1, failed)
	assert.Equal(t, []int{1, 2, 3}, calls)
}

type urlFetcher struct{ bad string }

func (f *urlFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	if url == f.bad {
		return nil, "", &HTTPStatusError{Code: 404, Status: "404 Not Found"}
	}
	return []byte(url), "audio/mpeg", nil
}

func TestPrune_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 20, 8, 0, 0, 0, time.UTC))
	opts := fastOptions()
	opts.Clock = clock
	c := New(NewMemoryStore(), &urlFetcher{}, opts)
	defer c.Close()
	ctx := context.Background()

	urls := []string{"https://a/1111.mp3", "https://a/2222.mp3", "https://a/3333.mp3"}
	for _, u := range urls {
		require.NoError(t, c.EnsureCached(ctx, u))
		clock.Advance(time.Minute)
	}
	// Touch the oldest so the second becomes least recently used.
	c.Resolve(ctx, urls[0])

	size := int64(len(urls[0]))
	evicted, err := c.Prune(ctx, 2*size)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, err = c.Entry(ctx, urls[1])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotNil(t, c.Resolve(ctx, urls[0]).Data)
	assert.NotNil(t, c.Resolve(ctx, urls[2]).Data)

	evicted, err = c.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.mp3":
			assert.Equal(t, "audio/*,*/*;q=0.9", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3"))
		case "/empty.mp3":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	ctx := context.Background()

	data, ct, err := f.Fetch(ctx, srv.URL+"/ok.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), data)
	assert.Equal(t, "audio/mpeg", ct)

	_, _, err = f.Fetch(ctx, srv.URL+"/empty.mp3")
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, _, err = f.Fetch(ctx, srv.URL+"/missing.mp3")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestHTTPFetcher_OversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("12345678"))
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: srv.Client(), MaxBytes: 4}
	_, _, err := f.Fetch(context.Background(), srv.URL+"/big.mp3")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	f.MaxBytes = 8
	data, _, err := f.Fetch(context.Background(), srv.URL+"/exact.mp3")
	require.NoError(t, err)
	assert.Len(t, data, 8)
}

func TestHTTPFetcher_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "music.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	f := NewHTTPFetcher()
	data, _, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	data, _, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	_, _, err = f.Fetch(context.Background(), filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
