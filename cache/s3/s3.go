// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package s3 implements a durable, lower-throughput cache backend on
// S3-compatible object storage: one JSON object per fingerprint under an
// optional key prefix, with cache-control headers derived from the TTL.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/traylinx/switchcache/cache"
)

// Config holds connection parameters for an S3-compatible endpoint.
type Config struct {
	// Endpoint is the host:port of the object store. Required.
	Endpoint string `yaml:"endpoint"`

	// Bucket holds the cache objects. Required.
	Bucket string `yaml:"bucket"`

	// AccessKey / SecretKey authenticate the connection.
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`

	// Region of the bucket, empty for the endpoint default.
	Region string `yaml:"region"`

	// KeyPrefix is an optional path prefix for every object.
	KeyPrefix string `yaml:"key-prefix"`

	// UseSSL selects https.
	UseSSL bool `yaml:"use-ssl"`

	// DefaultTTL applies to writes without an explicit TTL and feeds the
	// objects' Cache-Control headers.
	DefaultTTL time.Duration `yaml:"default-ttl"`
}

// Cache is an object-storage cache backend.
type Cache struct {
	client *minio.Client
	cfg    Config
}

// New validates the configuration and builds the client. Credentials and
// bucket problems are deployment errors and fail construction.
func New(cfg Config) (*Cache, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 cache: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 cache: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 cache: build client: %w", err)
	}
	return &Cache{client: client, cfg: cfg}, nil
}

func (c *Cache) objectKey(key string) string {
	if c.cfg.KeyPrefix == "" {
		return key
	}
	return c.cfg.KeyPrefix + key
}

// Get fetches the object stored under key. A missing object is a miss, not
// an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.cfg.Bucket, c.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 cache: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, cache.ErrCacheMiss
		}
		return nil, fmt.Errorf("s3 cache: read %s: %w", key, err)
	}
	return data, nil
}

// Set stores value as one application/json object with Cache-Control headers
// derived from the TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if ttl > 0 {
		secs := int64(ttl / time.Second)
		opts.CacheControl = fmt.Sprintf("immutable, max-age=%d, s-maxage=%d", secs, secs)
		opts.Expires = time.Now().Add(ttl)
	}
	_, err := c.client.PutObject(ctx, c.cfg.Bucket, c.objectKey(key),
		bytes.NewReader(value), int64(len(value)), opts)
	if err != nil {
		return fmt.Errorf("s3 cache: put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object stored under key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.client.RemoveObject(ctx, c.cfg.Bucket, c.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3 cache: remove %s: %w", key, err)
	}
	return nil
}

// Flush removes every cache object under the configured prefix.
func (c *Cache) Flush(ctx context.Context) error {
	objects := c.client.ListObjects(ctx, c.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    c.cfg.KeyPrefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("s3 cache: list during flush: %w", obj.Err)
		}
		if err := c.client.RemoveObject(ctx, c.cfg.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("s3 cache: remove %s during flush: %w", obj.Key, err)
		}
	}
	return nil
}

// Ping verifies the bucket is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3 cache: bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3 cache: bucket %s does not exist", c.cfg.Bucket)
	}
	return nil
}

var (
	_ cache.Backend       = (*Cache)(nil)
	_ cache.HealthChecker = (*Cache)(nil)
)
