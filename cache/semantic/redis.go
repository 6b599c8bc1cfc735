// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchcache/cache"
)

// DefaultDimension matches the MiniLM embedding model shipped with the
// internal embedding engine.
const DefaultDimension = 384

// RedisConfig holds settings for a RediSearch-backed semantic cache.
type RedisConfig struct {
	// Client is the shared Redis connection. Required; the server must
	// have the RediSearch module loaded.
	Client goredis.UniversalClient

	// Embedder computes prompt embeddings. Required.
	Embedder Embedder

	// Index is the RediSearch index name. Required.
	Index string

	// Threshold is the minimum cosine similarity for a hit, in (0, 1].
	// Required.
	Threshold float64

	// Dimension of the embedding vectors. Zero selects DefaultDimension.
	Dimension int

	// TTL expires stored entries; zero keeps them until flushed.
	TTL time.Duration
}

// RedisCache is a semantic cache over a RediSearch vector index. Records are
// hashes with fields {prompt, response, embedding}; lookups run a KNN top-1
// query and convert cosine distance to similarity as 1 - distance.
type RedisCache struct {
	client    goredis.UniversalClient
	embedder  Embedder
	index     string
	keyPrefix string
	threshold float64
	ttl       time.Duration
}

// NewRedis validates the configuration and idempotently creates the vector
// index. Missing client, embedder, index name or threshold are deployment
// errors and fail construction; an index that already exists is fine.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("semantic redis cache: client is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("semantic redis cache: embedder is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("semantic redis cache: index name is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("semantic redis cache: similarity threshold must be in (0, 1], got %v", cfg.Threshold)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	c := &RedisCache{
		client:    cfg.Client,
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		keyPrefix: cfg.Index + ":",
		threshold: cfg.Threshold,
		ttl:       cfg.TTL,
	}
	if err := c.createIndex(ctx, cfg.Dimension); err != nil {
		return nil, err
	}
	return c, nil
}

// createIndex creates the vector index if absent, never overwriting an
// existing one.
func (c *RedisCache) createIndex(ctx context.Context, dimension int) error {
	err := c.client.Do(ctx,
		"FT.CREATE", c.index,
		"ON", "HASH",
		"PREFIX", "1", c.keyPrefix,
		"SCHEMA",
		"prompt", "TEXT",
		"response", "TEXT",
		"embedding", "VECTOR", "FLAT", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dimension),
		"DISTANCE_METRIC", "COSINE",
	).Err()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
			log.Debugf("semantic redis cache: index %s already exists", c.index)
			return nil
		}
		return fmt.Errorf("semantic redis cache: create index %s: %w", c.index, err)
	}
	return nil
}

// SetSimilar embeds the messages and upserts {prompt, response, embedding}
// into the index.
func (c *RedisCache) SetSimilar(ctx context.Context, messages []cache.Message, value []byte) error {
	prompt := Prompt(messages)
	if prompt == "" {
		return errors.New("semantic redis cache: empty prompt")
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("semantic redis cache: embed prompt: %w", err)
	}

	sum := sha256.Sum256([]byte(prompt))
	key := c.keyPrefix + hex.EncodeToString(sum[:])
	err = c.client.HSet(ctx, key, map[string]any{
		"prompt":    prompt,
		"response":  value,
		"embedding": EncodeVector(vec),
	}).Err()
	if err != nil {
		return fmt.Errorf("semantic redis cache: store entry: %w", err)
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			log.Warnf("semantic redis cache: expire %s: %v", key, err)
		}
	}
	return nil
}

// GetSimilar embeds the messages, runs a KNN top-1 query and returns the
// stored response only when 1 - distance clears the threshold.
func (c *RedisCache) GetSimilar(ctx context.Context, messages []cache.Message) ([]byte, float64, error) {
	prompt := Prompt(messages)
	if prompt == "" {
		return nil, 0, cache.ErrCacheMiss
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("semantic redis cache: embed prompt: %w", err)
	}

	reply, err := c.client.Do(ctx,
		"FT.SEARCH", c.index,
		"*=>[KNN 1 @embedding $vec AS vector_distance]",
		"PARAMS", "2", "vec", EncodeVector(vec),
		"SORTBY", "vector_distance", "ASC",
		"RETURN", "2", "response", "vector_distance",
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("semantic redis cache: knn search: %w", err)
	}

	response, distance, ok := parseSearchReply(reply)
	if !ok {
		return nil, 0, cache.ErrCacheMiss
	}
	similarity := 1 - distance
	if similarity < c.threshold {
		log.Debugf("semantic redis cache: best similarity %.4f below threshold %.4f", similarity, c.threshold)
		return nil, similarity, cache.ErrCacheMiss
	}
	return response, similarity, nil
}

// parseSearchReply extracts the response field and vector distance from an
// FT.SEARCH reply, tolerating both the RESP2 array shape and the RESP3 map
// shape. Anything unparseable reads as a miss, never an error.
func parseSearchReply(reply any) (response []byte, distance float64, ok bool) {
	switch r := reply.(type) {
	case []any:
		// [count, key1, [field, value, ...], ...]
		for _, item := range r {
			fields, isList := item.([]any)
			if !isList {
				continue
			}
			return parseFieldList(fields)
		}
	case map[any]any:
		if results, found := r["results"].([]any); found && len(results) > 0 {
			if first, isMap := results[0].(map[any]any); isMap {
				if attrs, found := first["extra_attributes"].(map[any]any); found {
					return parseFieldMap(attrs)
				}
			}
		}
	}
	return nil, 0, false
}

func parseFieldList(fields []any) ([]byte, float64, bool) {
	var (
		response    []byte
		distance    float64
		hasResponse bool
		hasDistance bool
	)
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		switch name {
		case "response":
			if s, isStr := fields[i+1].(string); isStr {
				response = []byte(s)
				hasResponse = true
			}
		case "vector_distance":
			if s, isStr := fields[i+1].(string); isStr {
				if d, err := strconv.ParseFloat(s, 64); err == nil {
					distance = d
					hasDistance = true
				}
			}
		}
	}
	return response, distance, hasResponse && hasDistance
}

func parseFieldMap(attrs map[any]any) ([]byte, float64, bool) {
	s, isStr := attrs["response"].(string)
	if !isStr {
		return nil, 0, false
	}
	ds, isStr := attrs["vector_distance"].(string)
	if !isStr {
		return nil, 0, false
	}
	d, err := strconv.ParseFloat(ds, 64)
	if err != nil {
		return nil, 0, false
	}
	return []byte(s), d, true
}

var _ cache.SemanticBackend = (*RedisCache)(nil)
