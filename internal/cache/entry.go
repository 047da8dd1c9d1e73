// Package cache keeps audio payloads available offline.
//
// Entries are keyed by origin URL. A payload is stored only once a fetch has
// succeeded; failed fetches are recorded with their status so listings can
// show what is missing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Status is the cache state of one URL.
type Status string

const (
	StatusPending Status = "pending"
	StatusCached  Status = "cached"
	StatusError   Status = "error"
)

// Entry describes one cached URL. The payload is held by the BlobStore.
type Entry struct {
	URL          string
	Status       Status
	LastAccessed time.Time
	Size         int64
	SHA256       string
	ContentType  string
	Attempts     int
	LastError    string
}

// ErrNotFound is returned by a BlobStore for an unknown URL.
var ErrNotFound = errors.New("cache entry not found")

// BlobStore persists entries and their payloads.
type BlobStore interface {
	// Get returns the entry and, when cached, its payload.
	Get(ctx context.Context, url string) (Entry, []byte, error)

	// Put inserts or replaces an entry. A nil payload clears any stored one.
	Put(ctx context.Context, e Entry, payload []byte) error

	// Touch updates LastAccessed.
	Touch(ctx context.Context, url string, at time.Time) error

	// List returns all entries without payloads, ordered by URL.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes an entry.
	Delete(ctx context.Context, url string) error

	// Close releases resources.
	Close() error
}

// FetchError is returned once all attempts to fetch a URL have failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
