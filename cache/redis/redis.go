// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package redis implements the remote key/value cache backend on top of a
// shared Redis client: namespaced keys, pipelined batch writes, a buffered
// high-throughput write path and atomic counters.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchcache/cache"
)

const (
	// DefaultFlushSize is the buffered-write threshold: once the local
	// buffer holds this many entries it is drained as one pipeline.
	DefaultFlushSize = 100

	// DefaultTTL applies to writes without an explicit TTL.
	DefaultTTL = time.Hour

	constructPingTimeout = 5 * time.Second
)

// Config holds connection parameters and tuning for a Redis cache.
type Config struct {
	// Addr is the host:port of the Redis server. Required.
	Addr string `yaml:"addr"`

	// Password authenticates the connection, empty for none.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`

	// Namespace is prefixed to every key as "{namespace}:", applied
	// uniformly on read and write paths.
	Namespace string `yaml:"namespace"`

	// DefaultTTL applies to writes without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default-ttl"`

	// FlushSize is the buffered-write threshold.
	FlushSize int `yaml:"flush-size"`

	// PoolSize, MinIdleConns and MaxRetries tune the shared client.
	PoolSize     int `yaml:"pool-size"`
	MinIdleConns int `yaml:"min-idle-conns"`
	MaxRetries   int `yaml:"max-retries"`
}

// Cache is a Redis-backed cache. One Cache (and its underlying client) is
// shared across all concurrent callers in a process; connection pooling is
// the client's responsibility.
type Cache struct {
	client goredis.UniversalClient
	cfg    Config

	// bufMu guards buffer. The drain swaps in a fresh slice before
	// flushing so entries appended during a flush are never lost.
	bufMu  sync.Mutex
	buffer []cache.Entry
}

// New connects to Redis and returns a cache backend. A failed connectivity
// ping is logged but does not fail construction; the backend degrades to
// misses until Redis comes back. A missing address is a configuration error
// and fails immediately.
func New(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis cache: addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})
	c := NewFromClient(client, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), constructPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("redis cache: connectivity check failed for %s: %v", cfg.Addr, err)
	}
	return c, nil
}

// NewFromClient wraps an existing client. The client is shared, not owned,
// unless the caller later invokes Close.
func NewFromClient(client goredis.UniversalClient, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultFlushSize
	}
	return &Cache{client: client, cfg: cfg}
}

// Client exposes the underlying shared client so other components (e.g. the
// semantic cache's vector index) can ride the same connection pool.
func (c *Cache) Client() goredis.UniversalClient { return c.client }

func (c *Cache) key(k string) string {
	if c.cfg.Namespace == "" {
		return k
	}
	return c.cfg.Namespace + ":" + k
}

// Get returns the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == goredis.Nil {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", key, err)
	}
	return nil
}

// SetBuffered appends a write to the local buffer and drains the buffer as
// one pipeline once it reaches the flush size. Buffered writes trade a
// bounded durability window for fewer round trips under high write volume;
// call FlushBuffer before shutdown to push out stragglers.
func (c *Cache) SetBuffered(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.bufMu.Lock()
	c.buffer = append(c.buffer, cache.Entry{Key: key, Value: value, TTL: ttl})
	if len(c.buffer) < c.cfg.FlushSize {
		c.bufMu.Unlock()
		return nil
	}
	drained := c.buffer
	c.buffer = nil
	c.bufMu.Unlock()

	return c.SetPipeline(ctx, drained)
}

// FlushBuffer drains any buffered writes regardless of the threshold.
func (c *Cache) FlushBuffer(ctx context.Context) error {
	c.bufMu.Lock()
	drained := c.buffer
	c.buffer = nil
	c.bufMu.Unlock()

	if len(drained) == 0 {
		return nil
	}
	return c.SetPipeline(ctx, drained)
}

// BufferedLen returns the number of writes waiting in the buffer.
func (c *Cache) BufferedLen() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return len(c.buffer)
}

// SetPipeline issues all writes as one pipelined multi-SET, each entry with
// its own TTL.
func (c *Cache) SetPipeline(ctx context.Context, entries []cache.Entry) error {
	pipe := c.client.Pipeline()
	for _, e := range entries {
		ttl := e.TTL
		if ttl <= 0 {
			ttl = c.cfg.DefaultTTL
		}
		pipe.Set(ctx, c.key(e.Key), e.Value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis cache: pipeline of %d entries: %w", len(entries), err)
	}
	return nil
}

// GetMulti issues one MGET and zips the results back onto the key list
// positionally. Keys that are absent or hold an unexpected type are simply
// left out of the result; one bad value never loses the others.
func (c *Cache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	vals, err := c.client.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache: mget %d keys: %w", len(keys), err)
	}
	out := make(map[string][]byte, len(keys))
	for i, val := range vals {
		if i >= len(keys) || val == nil {
			continue
		}
		switch v := val.(type) {
		case string:
			out[keys[i]] = []byte(v)
		case []byte:
			out[keys[i]] = v
		default:
			log.Warnf("redis cache: unexpected type %T for key %s", val, keys[i])
		}
	}
	return out, nil
}

// IncrementBy atomically adds delta to the float value under key. This is
// the one operation that must be atomic across processes (rate-limit
// counters ride on it).
func (c *Cache) IncrementBy(ctx context.Context, key string, delta float64) (float64, error) {
	val, err := c.client.IncrByFloat(ctx, c.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis cache: incrbyfloat %s: %w", key, err)
	}
	return val, nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: del %s: %w", key, err)
	}
	return nil
}

// Flush removes every key in the selected database.
func (c *Cache) Flush(ctx context.Context) error {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: flushdb: %w", err)
	}
	return nil
}

// Scan returns up to limit keys matching pattern, with the namespace prefix
// stripped back off.
func (c *Cache) Scan(ctx context.Context, pattern string, limit int64) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	prefix := ""
	if c.cfg.Namespace != "" {
		prefix = c.cfg.Namespace + ":"
	}
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+pattern, limit).Result()
		if err != nil {
			return nil, fmt.Errorf("redis cache: scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			if prefix != "" && len(k) > len(prefix) && k[:len(prefix)] == prefix {
				k = k[len(prefix):]
			}
			out = append(out, k)
		}
		cursor = next
		if cursor == 0 || (limit > 0 && int64(len(out)) >= limit) {
			break
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close flushes buffered writes and releases the client.
func (c *Cache) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), constructPingTimeout)
	defer cancel()
	if err := c.FlushBuffer(ctx); err != nil {
		log.Warnf("redis cache: flushing write buffer on close: %v", err)
	}
	return c.client.Close()
}

var (
	_ cache.Backend       = (*Cache)(nil)
	_ cache.BatchBackend  = (*Cache)(nil)
	_ cache.Incrementer   = (*Cache)(nil)
	_ cache.HealthChecker = (*Cache)(nil)
	_ cache.Scanner       = (*Cache)(nil)
)
