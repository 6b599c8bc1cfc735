// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package semantic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/traylinx/switchcache/cache"
)

// QdrantConfig holds settings for a Qdrant-backed semantic cache. Qdrant is
// spoken over its REST API.
type QdrantConfig struct {
	// BaseURL of the Qdrant server, e.g. "http://localhost:6333". Required.
	BaseURL string `yaml:"base-url"`

	// APIKey authenticates requests, empty for none.
	APIKey string `yaml:"api-key"`

	// Collection holding the cached prompts. Required.
	Collection string `yaml:"collection"`

	// Threshold is the minimum cosine similarity for a hit, in (0, 1].
	// Required.
	Threshold float64 `yaml:"threshold"`

	// Dimension of the embedding vectors. Zero selects DefaultDimension.
	Dimension int `yaml:"dimension"`

	// Embedder computes prompt embeddings. Required.
	Embedder Embedder `yaml:"-"`

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client `yaml:"-"`
}

// QdrantCache is a semantic cache over a Qdrant collection. Records carry a
// {prompt, response} payload; lookups run a top-1 vector search and use
// Qdrant's cosine score as the similarity directly.
type QdrantCache struct {
	baseURL    string
	apiKey     string
	collection string
	threshold  float64
	embedder   Embedder
	httpClient *http.Client
}

// NewQdrant validates the configuration and idempotently creates the
// collection (create-if-absent, never overwrite).
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*QdrantCache, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("qdrant cache: base url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant cache: collection name is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("qdrant cache: embedder is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("qdrant cache: similarity threshold must be in (0, 1], got %v", cfg.Threshold)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &QdrantCache{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		threshold:  cfg.Threshold,
		embedder:   cfg.Embedder,
		httpClient: cfg.HTTPClient,
	}
	if err := c.ensureCollection(ctx, cfg.Dimension); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *QdrantCache) ensureCollection(ctx context.Context, dimension int) error {
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+c.collection, nil)
	if err != nil {
		return fmt.Errorf("qdrant cache: check collection %s: %w", c.collection, err)
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("qdrant cache: check collection %s: unexpected status %d", c.collection, status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	status, _, err = c.do(ctx, http.MethodPut, "/collections/"+c.collection, body)
	if err != nil {
		return fmt.Errorf("qdrant cache: create collection %s: %w", c.collection, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant cache: create collection %s: status %d", c.collection, status)
	}
	return nil
}

// SetSimilar embeds the messages and upserts one point with the prompt and
// response in its payload.
func (c *QdrantCache) SetSimilar(ctx context.Context, messages []cache.Message, value []byte) error {
	prompt := Prompt(messages)
	if prompt == "" {
		return errors.New("qdrant cache: empty prompt")
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("qdrant cache: embed prompt: %w", err)
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":     uuid.NewString(),
			"vector": vec,
			"payload": map[string]any{
				"prompt":   prompt,
				"response": string(value),
			},
		}},
	}
	status, _, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection+"/points?wait=true", body)
	if err != nil {
		return fmt.Errorf("qdrant cache: upsert point: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant cache: upsert point: status %d", status)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload struct {
			Prompt   string `json:"prompt"`
			Response string `json:"response"`
		} `json:"payload"`
	} `json:"result"`
}

// GetSimilar embeds the messages, runs a top-1 search and returns the stored
// response only when the cosine score clears the threshold.
func (c *QdrantCache) GetSimilar(ctx context.Context, messages []cache.Message) ([]byte, float64, error) {
	prompt := Prompt(messages)
	if prompt == "" {
		return nil, 0, cache.ErrCacheMiss
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("qdrant cache: embed prompt: %w", err)
	}

	body := map[string]any{
		"vector":       vec,
		"limit":        1,
		"with_payload": true,
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/collections/"+c.collection+"/points/search", body)
	if err != nil {
		return nil, 0, fmt.Errorf("qdrant cache: search: %w", err)
	}
	if status != http.StatusOK {
		return nil, 0, fmt.Errorf("qdrant cache: search: status %d", status)
	}

	var parsed qdrantSearchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, 0, fmt.Errorf("qdrant cache: decode search response: %w", err)
	}
	if len(parsed.Result) == 0 {
		return nil, 0, cache.ErrCacheMiss
	}
	best := parsed.Result[0]
	if best.Score < c.threshold {
		return nil, best.Score, cache.ErrCacheMiss
	}
	return []byte(best.Payload.Response), best.Score, nil
}

// do issues one REST call and returns the status and response body.
func (c *QdrantCache) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

var _ cache.SemanticBackend = (*QdrantCache)(nil)
