// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds facade-level settings. Backend connection parameters live
// with the backend constructors, not here.
type Config struct {
	// Mode selects opt-out (default_on) or opt-in (default_off) caching.
	Mode Mode

	// DefaultTTL applies to writes that carry no per-call TTL override.
	// Zero lets the backend apply its own default.
	DefaultTTL time.Duration

	// Namespace is prefixed to every fingerprint. A per-call metadata
	// namespace takes precedence.
	Namespace string

	// CachingGroups are sets of model aliases sharing cache entries.
	CachingGroups [][]string

	// SupportedCallTypes is an allow-list of call types eligible for
	// caching. Empty means every call type is eligible.
	SupportedCallTypes []CallType

	// IncludeProviderParams also fingerprints provider-specific optional
	// params outside the canonical list.
	IncludeProviderParams bool

	// CompressionThreshold is the envelope size in bytes above which
	// payloads are gzipped. Negative disables compression; zero selects
	// DefaultCompressionThreshold.
	CompressionThreshold int
}

// Stats is a snapshot of facade activity counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Skips  int64 `json:"skips"`
	Writes int64 `json:"writes"`
	Errors int64 `json:"errors"`
}

// HitRate returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the facade over one backend: it derives fingerprints, wraps
// responses in timestamped envelopes, enforces the activation mode and
// freshness rules, and degrades every backend failure to an uncached call.
type Cache struct {
	// exactly one of backend and semantic is set
	backend  Backend
	semantic SemanticBackend

	keygen KeyGenerator
	codec  codec
	cfg    Config

	// mode and defaultTTL are behind mu so a config watcher can retune a
	// live facade.
	mu         sync.RWMutex
	mode       Mode
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	skips  atomic.Int64
	writes atomic.Int64
	errs   atomic.Int64

	now func() time.Time
}

// New creates a facade over backend. The backend is shared, not owned: its
// lifetime may exceed the facade's, and Disconnect only closes it when it
// exposes a Close method.
func New(backend Backend, cfg Config) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache: backend is required")
	}
	c, err := newFacade(cfg)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	return c, nil
}

// NewSemantic creates a facade over a similarity-based backend. Lookups and
// writes go through the backend's embedding index instead of exact keys; the
// rest of the facade behavior (activation mode, envelopes, freshness) is
// unchanged.
func NewSemantic(backend SemanticBackend, cfg Config) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache: semantic backend is required")
	}
	c, err := newFacade(cfg)
	if err != nil {
		return nil, err
	}
	c.semantic = backend
	return c, nil
}

func newFacade(cfg Config) (*Cache, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeDefaultOn
	}
	if cfg.Mode != ModeDefaultOn && cfg.Mode != ModeDefaultOff {
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
	threshold := cfg.CompressionThreshold
	if threshold == 0 {
		threshold = DefaultCompressionThreshold
	} else if threshold < 0 {
		threshold = 0
	}
	return &Cache{
		keygen: KeyGenerator{
			Namespace:             cfg.Namespace,
			CachingGroups:         cfg.CachingGroups,
			IncludeProviderParams: cfg.IncludeProviderParams,
		},
		codec:      codec{compressionThreshold: threshold},
		cfg:        cfg,
		mode:       cfg.Mode,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}, nil
}

// Backend returns the exact-key backend the facade delegates to, or nil for
// a semantic facade.
func (c *Cache) Backend() Backend { return c.backend }

// KeyGenerator returns the facade's key generator, for callers that need to
// precompute a key (e.g. before streaming rewrites call params).
func (c *Cache) KeyGenerator() *KeyGenerator { return &c.keygen }

// SetMode retunes the activation mode at runtime.
func (c *Cache) SetMode(mode Mode) {
	if mode != ModeDefaultOn && mode != ModeDefaultOff {
		return
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// SetDefaultTTL retunes the default write TTL at runtime.
func (c *Cache) SetDefaultTTL(ttl time.Duration) {
	c.mu.Lock()
	c.defaultTTL = ttl
	c.mu.Unlock()
}

// ShouldUseCache reports whether a call is eligible for caching: always in
// default_on mode, only with an explicit use-cache opt-in in default_off
// mode, and never for call types outside the configured allow-list.
func (c *Cache) ShouldUseCache(params Params) bool {
	if ct := params.CallType(); ct != "" && len(c.cfg.SupportedCallTypes) > 0 {
		supported := false
		for _, allowed := range c.cfg.SupportedCallTypes {
			if allowed == ct {
				supported = true
				break
			}
		}
		if !supported {
			return false
		}
	}

	c.mu.RLock()
	mode := c.mode
	c.mu.RUnlock()
	if mode == ModeDefaultOn {
		return true
	}
	ctl := ParseControl(params)
	return ctl.UseCache != nil && *ctl.UseCache
}

// Get looks up the cached response for a call. It returns ErrCacheMiss when
// the call is ineligible, the entry is absent, or the entry is older than the
// call's s-max-age; any other error means the cache was unavailable. Either
// way the caller's request proceeds uncached; Get never panics and never
// blocks on an ineligible call.
func (c *Cache) Get(ctx context.Context, params Params) (any, error) {
	if !c.ShouldUseCache(params) {
		c.skips.Add(1)
		return nil, ErrCacheMiss
	}
	ctl := ParseControl(params)
	if ctl.NoCache {
		c.skips.Add(1)
		return nil, ErrCacheMiss
	}

	if c.semantic != nil {
		return c.getSemantic(ctx, params, ctl)
	}

	key := c.keygen.Fingerprint(params)
	if key == "" {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			c.misses.Add(1)
			return nil, ErrCacheMiss
		}
		c.errs.Add(1)
		log.Warnf("cache get failed for key %s: %v", key, err)
		return nil, err
	}
	return c.finishGet(raw, ctl)
}

func (c *Cache) getSemantic(ctx context.Context, params Params, ctl Control) (any, error) {
	messages := params.Messages()
	if len(messages) == 0 {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	raw, similarity, err := c.semantic.GetSimilar(ctx, messages)
	if err != nil {
		if IsCacheMiss(err) {
			c.misses.Add(1)
			return nil, ErrCacheMiss
		}
		c.errs.Add(1)
		log.Warnf("semantic cache get failed: %v", err)
		return nil, err
	}
	// surface the achieved similarity out of band for observability
	if md := params.Metadata(); md != nil {
		md["semantic-similarity"] = similarity
	}
	return c.finishGet(raw, ctl)
}

// finishGet decodes the envelope and applies the s-max-age freshness filter.
func (c *Cache) finishGet(raw []byte, ctl Control) (any, error) {
	response, writtenAt, err := c.codec.decode(raw)
	if err != nil {
		c.errs.Add(1)
		log.Warnf("cache decode failed: %v", err)
		return nil, err
	}
	if ctl.HasMaxAge && !writtenAt.IsZero() {
		if c.now().Sub(writtenAt) > ctl.MaxAge {
			c.misses.Add(1)
			return nil, ErrCacheMiss
		}
	}
	c.hits.Add(1)
	return response, nil
}

// Add writes a provider result through to the backend, wrapped in a
// timestamped envelope. Unlike Get, a failed key derivation surfaces as an
// error: writing without a valid key cannot be made safe.
func (c *Cache) Add(ctx context.Context, result any, params Params) error {
	if !c.ShouldUseCache(params) {
		c.skips.Add(1)
		return nil
	}
	ctl := ParseControl(params)
	if ctl.NoStore {
		c.skips.Add(1)
		return nil
	}

	payload, err := c.codec.encode(result, c.now())
	if err != nil {
		c.errs.Add(1)
		return err
	}

	if c.semantic != nil {
		messages := params.Messages()
		if len(messages) == 0 {
			return errors.New("cache: semantic add requires messages")
		}
		if err := c.semantic.SetSimilar(ctx, messages, payload); err != nil {
			// semantic writes are best effort
			c.errs.Add(1)
			log.Warnf("semantic cache set failed: %v", err)
			return nil
		}
		c.writes.Add(1)
		return nil
	}

	key := c.keygen.Fingerprint(params)
	if key == "" {
		return errors.New("cache: could not derive cache key for write")
	}
	if err := c.backend.Set(ctx, key, payload, c.ttlFor(ctl)); err != nil {
		c.errs.Add(1)
		log.Warnf("cache set failed for key %s: %v", key, err)
		return err
	}
	c.writes.Add(1)
	return nil
}

// AddBatch writes one envelope per embedding result from a single logical
// call: the fingerprint for result i is derived with input item i substituted
// into the call params, and all writes go out as one pipeline.
func (c *Cache) AddBatch(ctx context.Context, results []any, params Params) error {
	if !c.ShouldUseCache(params) {
		c.skips.Add(1)
		return nil
	}
	ctl := ParseControl(params)
	if ctl.NoStore {
		c.skips.Add(1)
		return nil
	}
	if c.semantic != nil {
		return errors.New("cache: batch add is not supported on semantic backends")
	}
	inputs, ok := params["input"].([]any)
	if !ok || len(inputs) != len(results) {
		return fmt.Errorf("cache: batch add requires an input list matching %d results", len(results))
	}

	ttl := c.ttlFor(ctl)
	now := c.now()
	entries := make([]Entry, 0, len(results))
	for i, result := range results {
		itemParams := make(Params, len(params))
		for k, v := range params {
			itemParams[k] = v
		}
		itemParams["input"] = []any{inputs[i]}
		key := c.keygen.Fingerprint(itemParams)
		if key == "" {
			return errors.New("cache: could not derive cache key for batch write")
		}
		payload, err := c.codec.encode(result, now)
		if err != nil {
			c.errs.Add(1)
			return err
		}
		entries = append(entries, Entry{Key: key, Value: payload, TTL: ttl})
	}

	if bb, ok := c.backend.(BatchBackend); ok {
		if err := bb.SetPipeline(ctx, entries); err != nil {
			c.errs.Add(1)
			log.Warnf("cache pipeline write failed: %v", err)
			return err
		}
		c.writes.Add(int64(len(entries)))
		return nil
	}
	for _, e := range entries {
		if err := c.backend.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			c.errs.Add(1)
			log.Warnf("cache set failed for key %s: %v", e.Key, err)
			return err
		}
		c.writes.Add(1)
	}
	return nil
}

func (c *Cache) ttlFor(ctl Control) time.Duration {
	if ctl.TTL > 0 {
		return ctl.TTL
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultTTL
}

// Keys lists backend keys matching pattern, up to limit. Backends without
// key enumeration return ErrNotSupported.
func (c *Cache) Keys(ctx context.Context, pattern string, limit int64) ([]string, error) {
	if sc, ok := c.anyBackend().(Scanner); ok {
		return sc.Scan(ctx, pattern, limit)
	}
	return nil, fmt.Errorf("cache: key enumeration: %w", ErrNotSupported)
}

// Ping verifies backend connectivity when the backend supports it.
func (c *Cache) Ping(ctx context.Context) error {
	if hc, ok := c.anyBackend().(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Flush clears every entry in the backend. Semantic backends without a flush
// operation are a no-op.
func (c *Cache) Flush(ctx context.Context) error {
	if c.backend != nil {
		return c.backend.Flush(ctx)
	}
	if flusher, ok := c.anyBackend().(interface{ Flush(context.Context) error }); ok {
		return flusher.Flush(ctx)
	}
	return nil
}

// Disconnect tears down the backend connection when the backend supports it.
func (c *Cache) Disconnect() error {
	if closer, ok := c.anyBackend().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) anyBackend() any {
	if c.semantic != nil {
		return c.semantic
	}
	return c.backend
}

// Stats returns a snapshot of the facade's activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Skips:  c.skips.Load(),
		Writes: c.writes.Load(),
		Errors: c.errs.Load(),
	}
}
