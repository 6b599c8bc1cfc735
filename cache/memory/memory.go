// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memory implements the in-process cache backend: a bounded map with
// per-key absolute expiry and lazy, TTL-based reclamation.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/traylinx/switchcache/cache"
)

const (
	// DefaultMaxSize is the soft entry bound. The map may exceed it when
	// no entry has expired yet: the bound is a leak guard, not a strict
	// capacity limit.
	DefaultMaxSize = 200

	// DefaultTTL applies to writes without an explicit TTL.
	DefaultTTL = 10 * time.Minute
)

// Config tunes a Cache. Zero values select the defaults above.
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-process TTL map. All operations are safe for concurrent
// use within one process; the numeric increment is not atomic across
// processes; cross-process counters belong on a remote backend.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxSize    int
	defaultTTL time.Duration

	// now is swapped out by tests
	now func() time.Time
}

// New creates an in-memory cache.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key, lazily evicting it when expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, cache.ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value with an absolute expiry of now + ttl. When the map is at
// or over its soft max, already-expired entries are swept first; live entries
// are never discarded.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.sweepExpiredLocked()
	}
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Flush removes every entry.
func (c *Cache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	return nil
}

// GetMulti returns the present, unexpired values for keys.
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

// SetPipeline stores all entries. There is no round trip to batch here; the
// method exists so the in-memory tier satisfies the same batch contract as
// remote backends.
func (c *Cache) SetPipeline(ctx context.Context, entries []cache.Entry) error {
	for _, e := range entries {
		if err := c.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

// IncrementBy adds delta to the numeric value under key, treating an absent
// or expired key as 0. The updated value keeps the entry's remaining TTL, or
// receives the default TTL when the key is new.
func (c *Cache) IncrementBy(_ context.Context, key string, delta float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	current := 0.0
	expiresAt := now.Add(c.defaultTTL)
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		parsed, err := strconv.ParseFloat(string(e.value), 64)
		if err == nil {
			current = parsed
		}
		expiresAt = e.expiresAt
	}
	current += delta
	c.entries[key] = entry{
		value:     []byte(strconv.FormatFloat(current, 'f', -1, 64)),
		expiresAt: expiresAt,
	}
	return current, nil
}

// Size returns the number of entries currently held, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepExpiredLocked removes every already-expired entry. Must be called
// with mu held.
func (c *Cache) sweepExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

var (
	_ cache.Backend      = (*Cache)(nil)
	_ cache.BatchBackend = (*Cache)(nil)
	_ cache.Incrementer  = (*Cache)(nil)
)
