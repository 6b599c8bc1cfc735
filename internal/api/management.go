// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the management HTTP surface of the cache service:
// health, metrics and flush operations over the configured backend.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/traylinx/switchcache/cache"
)

// Handler serves the management endpoints for one cache facade.
type Handler struct {
	cache *cache.Cache

	// managementKeyHash is the bcrypt hash of the management key; empty
	// disables authentication.
	managementKeyHash string
}

// NewHandler creates a management handler.
func NewHandler(c *cache.Cache, managementKeyHash string) *Handler {
	return &Handler{cache: c, managementKeyHash: managementKeyHash}
}

// Register mounts the management routes on engine.
func (h *Handler) Register(engine *gin.Engine) {
	group := engine.Group("/v0/management", requestID(), h.auth())
	group.GET("/cache/ping", h.handlePing)
	group.GET("/cache/metrics", h.handleMetrics)
	group.GET("/cache/keys", h.handleKeys)
	group.POST("/cache/flush", h.handleFlush)
}

// requestID tags every request with a short ID that the log formatter picks
// up.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// auth rejects requests whose management key does not match the configured
// bcrypt hash. With no hash configured every request passes.
func (h *Handler) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.managementKeyHash == "" {
			c.Next()
			return
		}
		key := c.GetHeader("X-Management-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if key == "" || bcrypt.CompareHashAndPassword([]byte(h.managementKeyHash), []byte(key)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// handlePing reports backend connectivity.
// GET /v0/management/cache/ping
func (h *Handler) handlePing(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 5*time.Second)
	defer cancel()

	if err := h.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": true})
}

// handleMetrics returns the facade's activity counters.
// GET /v0/management/cache/metrics
func (h *Handler) handleMetrics(c *gin.Context) {
	stats := h.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"skips":    stats.Skips,
		"writes":   stats.Writes,
		"errors":   stats.Errors,
		"hit_rate": stats.HitRate(),
	})
}

// handleKeys lists cache keys matching a glob pattern, for operators chasing
// a specific entry. Backends without key enumeration answer 501.
// GET /v0/management/cache/keys?pattern=*&limit=100
func (h *Handler) handleKeys(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 10*time.Second)
	defer cancel()

	pattern := c.DefaultQuery("pattern", "*")
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	keys, err := h.cache.Keys(ctx, pattern, limit)
	if err != nil {
		if errors.Is(err, cache.ErrNotSupported) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("cache key scan failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// handleFlush clears every entry in the backend.
// POST /v0/management/cache/flush
func (h *Handler) handleFlush(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 30*time.Second)
	defer cancel()

	if err := h.cache.Flush(ctx); err != nil {
		log.Errorf("cache flush failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "cache flushed"})
}
