package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audio_cache (
	url           TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	last_accessed INTEGER NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	sha256        TEXT NOT NULL DEFAULT '',
	content_type  TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	payload       BLOB
);
CREATE INDEX IF NOT EXISTS audio_cache_last_accessed ON audio_cache(last_accessed);
`

// SQLiteStore is a BlobStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; for :memory: every connection would be a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements BlobStore.
func (s *SQLiteStore) Get(ctx context.Context, url string) (Entry, []byte, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, status, last_accessed, size, sha256, content_type, attempts, last_error, payload
		FROM audio_cache
		WHERE url = ?
	`, url)

	var (
		e        Entry
		accessed int64
		payload  []byte
	)
	if err := row.Scan(&e.URL, &e.Status, &accessed, &e.Size, &e.SHA256,
		&e.ContentType, &e.Attempts, &e.LastError, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, nil, ErrNotFound
		}
		return Entry{}, nil, fmt.Errorf("scan cache entry: %w", err)
	}
	e.LastAccessed = time.UnixMilli(accessed)
	return e, payload, nil
}

// Put implements BlobStore.
func (s *SQLiteStore) Put(ctx context.Context, e Entry, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_cache (url, status, last_accessed, size, sha256, content_type, attempts, last_error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			status = excluded.status,
			last_accessed = excluded.last_accessed,
			size = excluded.size,
			sha256 = excluded.sha256,
			content_type = excluded.content_type,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			payload = excluded.payload
	`, e.URL, string(e.Status), e.LastAccessed.UnixMilli(), e.Size, e.SHA256,
		e.ContentType, e.Attempts, e.LastError, payload)
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Touch implements BlobStore.
func (s *SQLiteStore) Touch(ctx context.Context, url string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE audio_cache SET last_accessed = ? WHERE url = ?`, at.UnixMilli(), url)
	if err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements BlobStore.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, status, last_accessed, size, sha256, content_type, attempts, last_error
		FROM audio_cache
		ORDER BY url ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			accessed int64
		)
		if err := rows.Scan(&e.URL, &e.Status, &accessed, &e.Size, &e.SHA256,
			&e.ContentType, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.LastAccessed = time.UnixMilli(accessed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete implements BlobStore.
func (s *SQLiteStore) Delete(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audio_cache WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
