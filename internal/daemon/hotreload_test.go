package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/store"
)

// touch rewrites path with data and moves its mtime forward so the change is
// visible regardless of filesystem timestamp resolution.
func touch(t *testing.T, path, data string, offset time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	mod := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	touch(t, path, "[audio]\nvolume = 80\n", -time.Minute)

	clock := clockwork.NewFakeClock()
	w := NewConfigWatcher(path, clock, nil)
	w.SetPollInterval(time.Second)

	var mu sync.Mutex
	var reloaded []*config.Config
	var failures []error

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := config.DefaultConfig()
	w.Start(ctx, initial, func(c *config.Config) {
		mu.Lock()
		reloaded = append(reloaded, c)
		mu.Unlock()
	}, func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})
	defer w.Stop()
	assert.Same(t, initial, w.Current())

	bctx, bcancel := context.WithTimeout(ctx, 2*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))

	touch(t, path, "[audio]\nvolume = 40\n", time.Minute)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 40, w.Current().Audio.Volume)

	touch(t, path, "[audio]\nvolume = 400\n", 2*time.Minute)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 40, w.Current().Audio.Volume, "invalid config is not applied")
}

func TestConfigWatcher_UnchangedFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	touch(t, path, "[audio]\nvolume = 80\n", -time.Minute)

	w := newFileWatcher("config", path, clockwork.NewFakeClock(), nil)
	calls := 0
	w.onChange = func() { calls++ }
	if info, err := os.Stat(path); assert.NoError(t, err) {
		w.lastModTime = info.ModTime()
	}

	w.check()
	assert.Zero(t, calls)

	touch(t, path, "[audio]\nvolume = 70\n", time.Minute)
	w.check()
	w.check()
	assert.Equal(t, 1, calls)
}

func TestStateWatcher_AppliesSharedState(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	require.NoError(t, store.SaveSharedState(store.DefaultSharedState()))

	path, err := store.StateFilePath()
	require.NoError(t, err)
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	clock := clockwork.NewFakeClock()
	w := NewStateWatcher(path, clock, nil)

	got := make(chan *store.SharedState, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx, func(s *store.SharedState) { got <- s })
	defer w.Stop()

	bctx, bcancel := context.WithTimeout(ctx, 2*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))

	state := store.DefaultSharedState()
	state.SetAutoplay(false)
	state.Library = "default"
	require.NoError(t, store.SaveSharedState(state))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	clock.Advance(DefaultReloadInterval)

	select {
	case s := <-got:
		assert.False(t, s.AutoplayOr(true))
		assert.Equal(t, "default", s.LibraryOr(""))
	case <-time.After(2 * time.Second):
		t.Fatal("state change not observed")
	}
}

func TestFileWatcher_StopIdempotent(t *testing.T) {
	w := newFileWatcher("test", filepath.Join(t.TempDir(), "missing"), clockwork.NewFakeClock(), nil)
	w.stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.start(ctx, func() {})
	w.start(ctx, func() {})
	w.stop()
	w.stop()
}
