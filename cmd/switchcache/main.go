// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command switchcache runs the cache service: it builds the configured
// backend, wraps it in the caching facade and serves the management API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchcache/cache"
	"github.com/traylinx/switchcache/cache/disk"
	"github.com/traylinx/switchcache/cache/dual"
	"github.com/traylinx/switchcache/cache/memory"
	"github.com/traylinx/switchcache/cache/redis"
	"github.com/traylinx/switchcache/cache/s3"
	"github.com/traylinx/switchcache/cache/semantic"
	"github.com/traylinx/switchcache/internal/api"
	"github.com/traylinx/switchcache/internal/buildinfo"
	"github.com/traylinx/switchcache/internal/config"
	"github.com/traylinx/switchcache/internal/embedding"
	"github.com/traylinx/switchcache/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("switchcache %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// optional .env overlay for credentials in local development
	_ = godotenv.Load()

	logging.SetupBaseLogger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	if err := run(cfg, *configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	facade, cleanup, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		facade.SetMode(next.CacheMode())
		facade.SetDefaultTTL(next.DefaultTTL())
	})
	if err != nil {
		log.Warnf("config hot reload disabled: %v", err)
	} else {
		go watcher.Run(ctx)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.NewHandler(facade, cfg.ManagementKey).Register(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	go func() {
		log.Infof("switchcache %s listening on %s (backend %s)", buildinfo.Version, server.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("management server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server shutdown: %v", err)
	}
	if err := facade.Disconnect(); err != nil {
		log.Warnf("backend disconnect: %v", err)
	}
	return nil
}

// buildCache constructs the configured backend and wraps it in the facade.
// The returned cleanup releases resources the facade does not own.
func buildCache(ctx context.Context, cfg *config.Config) (*cache.Cache, func(), error) {
	facadeCfg := cache.Config{
		Mode:                  cfg.CacheMode(),
		DefaultTTL:            cfg.DefaultTTL(),
		Namespace:             cfg.Namespace,
		CachingGroups:         cfg.CachingGroups,
		SupportedCallTypes:    cfg.CallTypes(),
		IncludeProviderParams: cfg.IncludeProviderParams,
	}
	cleanup := func() {}

	var backend cache.Backend
	switch cfg.Backend {
	case config.BackendMemory:
		backend = memory.New(memory.Config{
			MaxSize:    cfg.MaxLocalEntries,
			DefaultTTL: cfg.DefaultTTL(),
		})

	case config.BackendRedis:
		rc, err := redis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		backend = rc

	case config.BackendDual:
		rc, err := redis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		local := memory.New(memory.Config{
			MaxSize:    cfg.MaxLocalEntries,
			DefaultTTL: cfg.LocalTTL(),
		})
		backend = dual.New(local, rc, dual.Config{
			LocalTTL:  cfg.LocalTTL(),
			RemoteTTL: cfg.DefaultTTL(),
		})
		cleanup = func() {
			if err := rc.Close(); err != nil {
				log.Warnf("closing redis tier: %v", err)
			}
		}

	case config.BackendS3:
		sc, err := s3.New(cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		backend = sc

	case config.BackendDisk:
		dc, err := disk.New(cfg.Disk)
		if err != nil {
			return nil, nil, err
		}
		backend = dc

	case config.BackendRedisSemantic:
		embedder, err := embedding.New(embedding.Config{
			ModelPath:         cfg.Embedding.ModelPath,
			VocabPath:         cfg.Embedding.VocabPath,
			SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		})
		if err != nil {
			return nil, nil, err
		}
		rc, err := redis.New(cfg.Redis)
		if err != nil {
			embedder.Close()
			return nil, nil, err
		}
		sb, err := semantic.NewRedis(ctx, semantic.RedisConfig{
			Client:    rc.Client(),
			Embedder:  embedder,
			Index:     cfg.Semantic.Index,
			Threshold: cfg.Semantic.Threshold,
			Dimension: cfg.Semantic.Dimension,
			TTL:       cfg.DefaultTTL(),
		})
		if err != nil {
			embedder.Close()
			return nil, nil, err
		}
		facade, err := cache.NewSemantic(sb, facadeCfg)
		if err != nil {
			embedder.Close()
			return nil, nil, err
		}
		return facade, func() { embedder.Close() }, nil

	case config.BackendQdrantSemantic:
		embedder, err := embedding.New(embedding.Config{
			ModelPath:         cfg.Embedding.ModelPath,
			VocabPath:         cfg.Embedding.VocabPath,
			SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		})
		if err != nil {
			return nil, nil, err
		}
		qcfg := cfg.Qdrant
		qcfg.Embedder = embedder
		if qcfg.Threshold == 0 {
			qcfg.Threshold = cfg.Semantic.Threshold
		}
		if qcfg.Dimension == 0 {
			qcfg.Dimension = cfg.Semantic.Dimension
		}
		sb, err := semantic.NewQdrant(ctx, qcfg)
		if err != nil {
			embedder.Close()
			return nil, nil, err
		}
		facade, err := cache.NewSemantic(sb, facadeCfg)
		if err != nil {
			embedder.Close()
			return nil, nil, err
		}
		return facade, func() { embedder.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	facade, err := cache.New(backend, facadeCfg)
	if err != nil {
		return nil, nil, err
	}
	return facade, cleanup, nil
}
