package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	mem, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	file, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mem.Close()
		_ = file.Close()
	})
	return map[string]BlobStore{
		"sqlite-memory": mem,
		"sqlite-file":   file,
		"memory":        NewMemoryStore(),
	}
}

func TestBlobStores(t *testing.T) {
	at := time.UnixMilli(time.Date(2025, 4, 20, 8, 0, 0, 0, time.UTC).UnixMilli())

	for name, s := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := s.Get(ctx, "https://a/x.mp3")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Touch(ctx, "https://a/x.mp3", at), ErrNotFound)

			require.NoError(t, s.Put(ctx, Entry{URL: "https://a/x.mp3", Status: StatusPending, LastAccessed: at}, nil))
			e, payload, err := s.Get(ctx, "https://a/x.mp3")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, e.Status)
			assert.Nil(t, payload)

			cached := Entry{
				URL:          "https://a/x.mp3",
				Status:       StatusCached,
				LastAccessed: at,
				Size:         3,
				SHA256:       digest([]byte("abc")),
				ContentType:  "audio/mpeg",
				Attempts:     2,
			}
			require.NoError(t, s.Put(ctx, cached, []byte("abc")))
			e, payload, err = s.Get(ctx, "https://a/x.mp3")
			require.NoError(t, err)
			assert.Equal(t, cached, e)
			assert.Equal(t, []byte("abc"), payload)

			later := at.Add(time.Hour)
			require.NoError(t, s.Touch(ctx, "https://a/x.mp3", later))
			e, _, err = s.Get(ctx, "https://a/x.mp3")
			require.NoError(t, err)
			assert.True(t, later.Equal(e.LastAccessed))

			require.NoError(t, s.Put(ctx, Entry{URL: "https://a/a.mp3", Status: StatusError, LastAccessed: at, LastError: "boom"}, nil))
			entries, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "https://a/a.mp3", entries[0].URL)
			assert.Equal(t, "boom", entries[0].LastError)

			require.NoError(t, s.Delete(ctx, "https://a/x.mp3"))
			_, _, err = s.Get(ctx, "https://a/x.mp3")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenDefault_FallsBackToMemory(t *testing.T) {
	// A directory cannot be opened as a database file.
	dir := t.TempDir()
	s := OpenDefault(dir, nil)
	defer s.Close()

	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}
