// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache provides deterministic fingerprinting of LLM provider calls
// and a facade over pluggable cache backends. Exact-key backends live in the
// subpackages memory, redis, s3 and disk; similarity-based backends live in
// semantic; dual composes a local and a remote tier.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by backends when a key is absent or expired.
// Callers can distinguish a miss from a backend failure: any other non-nil
// error means the cache was unavailable, not that the entry does not exist.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err represents a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// ErrNotSupported is returned when an operation needs an optional capability
// the configured backend does not implement.
var ErrNotSupported = errors.New("operation not supported by backend")

// Entry is a single key/value pair for pipelined batch writes.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Backend is the minimal contract every cache backend implements.
// All methods take a context; remote backends treat it as a deadline and
// cancellation signal, in-process backends ignore it.
type Backend interface {
	// Get returns the stored value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-positive ttl selects the backend's
	// default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Flush removes every entry held by the backend.
	Flush(ctx context.Context) error
}

// BatchBackend is implemented by backends that support multi-key operations
// in a single round trip.
type BatchBackend interface {
	// GetMulti returns the values for the given keys. Missing keys are
	// absent from the result map; a decode failure on one key must not
	// discard the other results.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetPipeline writes all entries as one pipelined operation.
	SetPipeline(ctx context.Context, entries []Entry) error
}

// Incrementer is implemented by backends with an atomic numeric increment.
// For remote backends the increment is atomic across processes; the
// in-memory backend is only safe within a single process.
type Incrementer interface {
	IncrementBy(ctx context.Context, key string, delta float64) (float64, error)
}

// HealthChecker is implemented by backends that can verify connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Scanner is implemented by backends that can enumerate keys by pattern.
type Scanner interface {
	Scan(ctx context.Context, pattern string, limit int64) ([]string, error)
}

// Message is one chat message of a provider call, used by semantic backends
// and by fingerprint derivation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SemanticBackend is implemented by similarity-based backends. Instead of an
// exact key they embed the call's messages and match by nearest neighbor.
type SemanticBackend interface {
	// GetSimilar returns the cached value whose stored prompt is most
	// similar to messages, together with the achieved similarity score.
	// Returns ErrCacheMiss when no candidate clears the configured
	// similarity threshold.
	GetSimilar(ctx context.Context, messages []Message) ([]byte, float64, error)

	// SetSimilar stores value keyed by the embedding of messages.
	SetSimilar(ctx context.Context, messages []Message, value []byte) error
}
