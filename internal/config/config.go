// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the switchCache
// service. It handles loading and parsing the YAML configuration file and
// validates backend settings eagerly: a misconfigured cache is a deployment
// error, not a runtime hiccup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traylinx/switchcache/cache"
	"github.com/traylinx/switchcache/cache/disk"
	"github.com/traylinx/switchcache/cache/redis"
	"github.com/traylinx/switchcache/cache/s3"
	"github.com/traylinx/switchcache/cache/semantic"
)

// BackendType selects one of the cache backend variants.
type BackendType string

const (
	BackendMemory         BackendType = "memory"
	BackendRedis          BackendType = "redis"
	BackendDual           BackendType = "dual"
	BackendS3             BackendType = "s3"
	BackendDisk           BackendType = "disk"
	BackendRedisSemantic  BackendType = "redis-semantic"
	BackendQdrantSemantic BackendType = "qdrant-semantic"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Host and Port bind the management API server.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotating log files.
	LogDir string `yaml:"log-dir"`

	// ManagementKey is the bcrypt hash of the key protecting the
	// management API. Empty disables authentication.
	ManagementKey string `yaml:"management-key"`

	// Backend selects the cache backend variant.
	Backend BackendType `yaml:"backend"`

	// Mode selects opt-out (default_on) or opt-in (default_off) caching.
	Mode string `yaml:"mode"`

	// Namespace is prefixed to every cache key.
	Namespace string `yaml:"namespace"`

	// DefaultTTLSeconds applies to writes without a per-call TTL.
	DefaultTTLSeconds int `yaml:"default-ttl-seconds"`

	// LocalTTLSeconds is the in-memory tier TTL for the dual backend,
	// kept separate from the remote TTL since in-memory capacity usually
	// warrants a shorter one.
	LocalTTLSeconds int `yaml:"local-ttl-seconds"`

	// MaxLocalEntries is the in-memory tier's soft entry bound.
	MaxLocalEntries int `yaml:"max-local-entries"`

	// SupportedCallTypes is an allow-list of call types eligible for
	// caching (completion, embedding, transcription). Empty allows all.
	SupportedCallTypes []string `yaml:"supported-call-types"`

	// CachingGroups are sets of model aliases that share cache entries.
	CachingGroups [][]string `yaml:"caching-groups"`

	// IncludeProviderParams also fingerprints provider-specific optional
	// params outside the canonical list.
	IncludeProviderParams bool `yaml:"include-provider-params"`

	// Redis configures the redis, dual and redis-semantic backends.
	Redis redis.Config `yaml:"redis"`

	// S3 configures the s3 backend.
	S3 s3.Config `yaml:"s3"`

	// Disk configures the disk backend.
	Disk disk.Config `yaml:"disk"`

	// Qdrant configures the qdrant-semantic backend.
	Qdrant semantic.QdrantConfig `yaml:"qdrant"`

	// Semantic tunes the semantic backends' shared knobs.
	Semantic SemanticConfig `yaml:"semantic"`

	// Embedding locates the local embedding model used by the semantic
	// backends.
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// SemanticConfig holds the knobs shared by both semantic backends.
type SemanticConfig struct {
	// Index is the vector index (redis) name.
	Index string `yaml:"index"`

	// Threshold is the minimum similarity for a hit, in (0, 1].
	Threshold float64 `yaml:"threshold"`

	// Dimension of the embedding vectors.
	Dimension int `yaml:"dimension"`
}

// EmbeddingConfig mirrors the embedding engine's config with yaml tags.
type EmbeddingConfig struct {
	ModelPath         string `yaml:"model-path"`
	VocabPath         string `yaml:"vocab-path"`
	SharedLibraryPath string `yaml:"shared-library-path"`
}

// DefaultTTL returns the configured default TTL as a duration.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// LocalTTL returns the configured in-memory tier TTL as a duration.
func (c *Config) LocalTTL() time.Duration {
	return time.Duration(c.LocalTTLSeconds) * time.Second
}

// CacheMode returns the configured activation mode, defaulting to
// default_on.
func (c *Config) CacheMode() cache.Mode {
	if c.Mode == "" {
		return cache.ModeDefaultOn
	}
	return cache.Mode(c.Mode)
}

// CallTypes converts the configured allow-list to typed call types.
func (c *Config) CallTypes() []cache.CallType {
	out := make([]cache.CallType, 0, len(c.SupportedCallTypes))
	for _, ct := range c.SupportedCallTypes {
		out = append(out, cache.CallType(ct))
	}
	return out
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.Port == 0 {
		cfg.Port = 8318
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on configuration errors. It checks only what the
// selected backend actually needs, so an unused block can stay empty.
func (c *Config) Validate() error {
	switch mode := c.CacheMode(); mode {
	case cache.ModeDefaultOn, cache.ModeDefaultOff:
	default:
		return fmt.Errorf("config: unknown cache mode %q", mode)
	}

	switch c.Backend {
	case BackendMemory:
	case BackendRedis, BackendDual:
		if c.Redis.Addr == "" {
			return errors.New("config: redis backend requires redis.addr")
		}
	case BackendS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return errors.New("config: s3 backend requires s3.endpoint and s3.bucket")
		}
	case BackendDisk:
		if c.Disk.Path == "" {
			return errors.New("config: disk backend requires disk.path")
		}
	case BackendRedisSemantic:
		if c.Redis.Addr == "" {
			return errors.New("config: redis-semantic backend requires redis.addr")
		}
		if c.Semantic.Index == "" {
			return errors.New("config: redis-semantic backend requires semantic.index")
		}
		if err := c.validateSemantic(); err != nil {
			return err
		}
	case BackendQdrantSemantic:
		if c.Qdrant.BaseURL == "" || c.Qdrant.Collection == "" {
			return errors.New("config: qdrant-semantic backend requires qdrant.base-url and qdrant.collection")
		}
		if err := c.validateSemantic(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

func (c *Config) validateSemantic() error {
	if c.Semantic.Threshold <= 0 || c.Semantic.Threshold > 1 {
		return fmt.Errorf("config: semantic.threshold must be in (0, 1], got %v", c.Semantic.Threshold)
	}
	if c.Embedding.ModelPath == "" {
		return errors.New("config: semantic backends require embedding.model-path")
	}
	return nil
}
