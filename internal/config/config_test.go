// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/traylinx/switchcache/cache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "host: 127.0.0.1\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("default backend: got %s", cfg.Backend)
	}
	if cfg.Port != 8318 {
		t.Errorf("default port: got %d", cfg.Port)
	}
	if cfg.CacheMode() != cache.ModeDefaultOn {
		t.Errorf("default mode: got %s", cfg.CacheMode())
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
host: 0.0.0.0
port: 9000
backend: dual
mode: default_off
namespace: tenant-a
default-ttl-seconds: 3600
local-ttl-seconds: 300
max-local-entries: 1000
supported-call-types:
  - completion
  - embedding
caching-groups:
  - [gpt-4o, azure-gpt-4o]
redis:
  addr: localhost:6379
  db: 2
  flush-size: 50
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendDual || cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("redis block not parsed: %+v", cfg.Redis)
	}
	if cfg.DefaultTTL() != time.Hour || cfg.LocalTTL() != 5*time.Minute {
		t.Errorf("ttl helpers: %v, %v", cfg.DefaultTTL(), cfg.LocalTTL())
	}
	if cfg.CacheMode() != cache.ModeDefaultOff {
		t.Errorf("mode: got %s", cfg.CacheMode())
	}
	types := cfg.CallTypes()
	if len(types) != 2 || types[0] != cache.CallTypeCompletion {
		t.Errorf("call types: %v", types)
	}
	if len(cfg.CachingGroups) != 1 || cfg.CachingGroups[0][0] != "gpt-4o" {
		t.Errorf("caching groups: %v", cfg.CachingGroups)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "backend: mongo\n"},
		{"unknown mode", "mode: sometimes\n"},
		{"redis without addr", "backend: redis\n"},
		{"dual without addr", "backend: dual\n"},
		{"s3 without bucket", "backend: s3\ns3:\n  endpoint: localhost:9000\n"},
		{"disk without path", "backend: disk\n"},
		{"redis-semantic without index", "backend: redis-semantic\nredis:\n  addr: localhost:6379\n"},
		{
			"semantic threshold out of range",
			"backend: redis-semantic\nredis:\n  addr: localhost:6379\nsemantic:\n  index: idx\n  threshold: 1.5\nembedding:\n  model-path: model.onnx\n",
		},
		{
			"semantic without model path",
			"backend: redis-semantic\nredis:\n  addr: localhost:6379\nsemantic:\n  index: idx\n  threshold: 0.9\n",
		},
		{"qdrant without collection", "backend: qdrant-semantic\nqdrant:\n  base-url: http://localhost:6333\n"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestValidAcceptedBackends(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"memory", "backend: memory\n"},
		{"redis", "backend: redis\nredis:\n  addr: localhost:6379\n"},
		{"disk", "backend: disk\ndisk:\n  path: /tmp/cache\n"},
		{
			"redis-semantic",
			"backend: redis-semantic\nredis:\n  addr: localhost:6379\nsemantic:\n  index: idx\n  threshold: 0.9\nembedding:\n  model-path: model.onnx\n",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err != nil {
				t.Errorf("unexpected rejection: %v", err)
			}
		})
	}
}
