// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package disk implements a durable on-disk cache backend over SQLite.
package disk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/traylinx/switchcache/cache"
)

// DefaultTTL applies to writes without an explicit TTL. Zero would persist
// entries forever; a day keeps the file from growing unbounded while staying
// useful across restarts.
const DefaultTTL = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER
);
`

// Config holds settings for a disk cache.
type Config struct {
	// Path is the directory holding the cache database. Required.
	Path string `yaml:"path"`

	// DefaultTTL applies to writes without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default-ttl"`
}

// Cache is a SQLite-backed cache: one row per fingerprint with an optional
// absolute expiry, lazily reclaimed on read.
type Cache struct {
	db         *sql.DB
	defaultTTL time.Duration

	// now is swapped out by tests
	now func() time.Time
}

// New opens (or creates) the cache database under cfg.Path.
func New(cfg Config) (*Cache, error) {
	if cfg.Path == "" {
		return nil, errors.New("disk cache: path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("disk cache: create %s: %w", cfg.Path, err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(cfg.Path, "cache.db")+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("disk cache: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("disk cache: create schema: %w", err)
	}
	return newWithDB(db, cfg.DefaultTTL), nil
}

// newWithDB wires an existing database handle; tests use it with a mock.
func newWithDB(db *sql.DB, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{db: db, defaultTTL: defaultTTL, now: time.Now}
}

// Get returns the value stored under key, deleting and missing on an
// expired row.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM entries WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("disk cache: get %s: %w", key, err)
	}
	if expiresAt.Valid && c.now().Unix() > expiresAt.Int64 {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
			return nil, fmt.Errorf("disk cache: evict %s: %w", key, err)
		}
		return nil, cache.ErrCacheMiss
	}
	return value, nil
}

// Set upserts value under key with an absolute expiry of now + ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.now().Add(ttl).Unix()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("disk cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("disk cache: delete %s: %w", key, err)
	}
	return nil
}

// Flush removes every entry.
func (c *Cache) Flush(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("disk cache: flush: %w", err)
	}
	return nil
}

// GetMulti reads each key independently; one failed row never loses the
// others.
func (c *Cache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := c.Get(ctx, key)
		if err != nil {
			continue
		}
		out[key] = value
	}
	return out, nil
}

// SetPipeline writes all entries inside one transaction.
func (c *Cache) SetPipeline(ctx context.Context, entries []cache.Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("disk cache: begin pipeline: %w", err)
	}
	for _, e := range entries {
		ttl := e.TTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			e.Key, e.Value, c.now().Add(ttl).Unix(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("disk cache: pipeline set %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("disk cache: commit pipeline: %w", err)
	}
	return nil
}

// Ping verifies the database file is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

var (
	_ cache.Backend       = (*Cache)(nil)
	_ cache.BatchBackend  = (*Cache)(nil)
	_ cache.HealthChecker = (*Cache)(nil)
)
