// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dual implements the two-tier cache coordinator: a required
// in-memory tier in front of an optional remote tier, read-through with
// read-repair and best-effort write-through.
package dual

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchcache/cache"
	"github.com/traylinx/switchcache/cache/memory"
)

// Config tunes a DualCache. The two TTL knobs are per-tier defaults for
// writes that carry no TTL of their own: in-memory capacity usually warrants
// a shorter local TTL than the remote tier's. An explicit per-call TTL always
// wins on both tiers.
type Config struct {
	LocalTTL  time.Duration `yaml:"local-ttl"`
	RemoteTTL time.Duration `yaml:"remote-ttl"`
}

// DualCache coordinates a local in-memory tier with an optional remote
// backend. Local is an authoritative-if-present accelerator; remote is the
// cross-process source of truth. The tiers may transiently disagree: no
// operation blocks on agreement, and a remote write failure is reported to
// the caller but never undoes the preceding local write.
type DualCache struct {
	local  *memory.Cache
	remote cache.Backend
	cfg    Config
}

// New creates a DualCache. local is required; remote may be nil, in which
// case the coordinator is a plain in-memory cache. The remote backend is
// shared, not owned, and Close does not touch it.
func New(local *memory.Cache, remote cache.Backend, cfg Config) *DualCache {
	if local == nil {
		local = memory.New(memory.Config{})
	}
	return &DualCache{local: local, remote: remote, cfg: cfg}
}

type localOnlyKey struct{}

// WithLocalOnly marks every DualCache operation under ctx as local-only:
// reads skip the remote tier and writes touch only the in-memory tier.
func WithLocalOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, localOnlyKey{}, true)
}

func localOnly(ctx context.Context) bool {
	v, _ := ctx.Value(localOnlyKey{}).(bool)
	return v
}

// Get reads local first and returns immediately on a hit. On a local miss it
// consults the remote tier and repopulates local from a remote hit so the
// next read is fast.
func (d *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := d.local.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if d.remote == nil || localOnly(ctx) {
		return nil, cache.ErrCacheMiss
	}

	value, err = d.remote.Get(ctx, key)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return nil, cache.ErrCacheMiss
		}
		log.Warnf("dual cache: remote get %s: %v", key, err)
		return nil, err
	}
	if repairErr := d.local.Set(ctx, key, value, d.cfg.LocalTTL); repairErr != nil {
		log.Warnf("dual cache: read repair for %s: %v", key, repairErr)
	}
	return value, nil
}

// Set writes through both tiers. The local write always happens first; the
// remote write is skipped for local-only calls and its failure is returned
// but does not undo the local write.
func (d *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := ttl
	if localTTL <= 0 {
		localTTL = d.cfg.LocalTTL
	}
	if err := d.local.Set(ctx, key, value, localTTL); err != nil {
		return err
	}
	if d.remote == nil || localOnly(ctx) {
		return nil
	}
	remoteTTL := ttl
	if remoteTTL <= 0 {
		remoteTTL = d.cfg.RemoteTTL
	}
	if err := d.remote.Set(ctx, key, value, remoteTTL); err != nil {
		log.Warnf("dual cache: remote set %s: %v", key, err)
		return err
	}
	return nil
}

// GetMulti resolves what it can locally, queries the remote tier only for
// the missed sublist, repopulates local from remote hits, and returns the
// combined result.
func (d *DualCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, err := d.local.GetMulti(ctx, keys)
	if err != nil {
		out = map[string][]byte{}
	}
	if d.remote == nil || localOnly(ctx) || len(out) == len(keys) {
		return out, nil
	}

	missed := make([]string, 0, len(keys)-len(out))
	for _, key := range keys {
		if _, ok := out[key]; !ok {
			missed = append(missed, key)
		}
	}

	remoteHits, err := d.fetchRemoteMulti(ctx, missed)
	if err != nil {
		log.Warnf("dual cache: remote batch get: %v", err)
		return out, nil
	}
	for key, value := range remoteHits {
		out[key] = value
		if repairErr := d.local.Set(ctx, key, value, d.cfg.LocalTTL); repairErr != nil {
			log.Warnf("dual cache: read repair for %s: %v", key, repairErr)
		}
	}
	return out, nil
}

func (d *DualCache) fetchRemoteMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if bb, ok := d.remote.(cache.BatchBackend); ok {
		return bb.GetMulti(ctx, keys)
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := d.remote.Get(ctx, key)
		if err != nil {
			if cache.IsCacheMiss(err) {
				continue
			}
			return out, err
		}
		out[key] = value
	}
	return out, nil
}

// SetPipeline writes all entries through both tiers, remote as one pipeline
// when the backend supports it.
func (d *DualCache) SetPipeline(ctx context.Context, entries []cache.Entry) error {
	for _, e := range entries {
		localTTL := e.TTL
		if localTTL <= 0 {
			localTTL = d.cfg.LocalTTL
		}
		if err := d.local.Set(ctx, e.Key, e.Value, localTTL); err != nil {
			return err
		}
	}
	if d.remote == nil || localOnly(ctx) {
		return nil
	}

	remoteEntries := make([]cache.Entry, len(entries))
	copy(remoteEntries, entries)
	for i := range remoteEntries {
		if remoteEntries[i].TTL <= 0 {
			remoteEntries[i].TTL = d.cfg.RemoteTTL
		}
	}
	if bb, ok := d.remote.(cache.BatchBackend); ok {
		if err := bb.SetPipeline(ctx, remoteEntries); err != nil {
			log.Warnf("dual cache: remote pipeline: %v", err)
			return err
		}
		return nil
	}
	for _, e := range remoteEntries {
		if err := d.remote.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			log.Warnf("dual cache: remote set %s: %v", e.Key, err)
			return err
		}
	}
	return nil
}

// IncrementBy delegates to the remote tier's atomic increment when present,
// mirroring the result into the local tier; otherwise it increments locally.
func (d *DualCache) IncrementBy(ctx context.Context, key string, delta float64) (float64, error) {
	if d.remote != nil && !localOnly(ctx) {
		if inc, ok := d.remote.(cache.Incrementer); ok {
			value, err := inc.IncrementBy(ctx, key, delta)
			if err != nil {
				return 0, err
			}
			return value, nil
		}
	}
	return d.local.IncrementBy(ctx, key, delta)
}

// Delete removes key from both tiers.
func (d *DualCache) Delete(ctx context.Context, key string) error {
	if err := d.local.Delete(ctx, key); err != nil {
		return err
	}
	if d.remote == nil || localOnly(ctx) {
		return nil
	}
	return d.remote.Delete(ctx, key)
}

// Flush clears both tiers.
func (d *DualCache) Flush(ctx context.Context) error {
	if err := d.local.Flush(ctx); err != nil {
		return err
	}
	if d.remote == nil || localOnly(ctx) {
		return nil
	}
	return d.remote.Flush(ctx)
}

// Ping checks the remote tier when one is configured; the in-memory tier has
// nothing to check.
func (d *DualCache) Ping(ctx context.Context) error {
	if d.remote == nil {
		return nil
	}
	if hc, ok := d.remote.(cache.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

var (
	_ cache.Backend       = (*DualCache)(nil)
	_ cache.BatchBackend  = (*DualCache)(nil)
	_ cache.Incrementer   = (*DualCache)(nil)
	_ cache.HealthChecker = (*DualCache)(nil)
)
