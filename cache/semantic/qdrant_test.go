// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package semantic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/traylinx/switchcache/cache"
)

// fakeQdrant is a minimal in-memory Qdrant REST double: it tracks collection
// existence and serves a canned search score.
type fakeQdrant struct {
	collections map[string]bool
	points      []map[string]any
	searchScore float64
	searchEmpty bool
	createCalls int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]bool{}}
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "collections" {
			http.NotFound(w, r)
			return
		}
		name := parts[1]

		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			if !f.collections[name] {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "green"}})

		case len(parts) == 2 && r.Method == http.MethodPut:
			f.collections[name] = true
			f.createCalls++
			json.NewEncoder(w).Encode(map[string]any{"result": true})

		case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
			var body struct {
				Points []map[string]any `json:"points"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.points = append(f.points, body.Points...)
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})

		case len(parts) == 4 && parts[2] == "points" && parts[3] == "search":
			if f.searchEmpty || len(f.points) == 0 {
				json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
				return
			}
			last := f.points[len(f.points)-1]
			json.NewEncoder(w).Encode(map[string]any{"result": []any{
				map[string]any{"score": f.searchScore, "payload": last["payload"]},
			}})

		default:
			http.NotFound(w, r)
		}
	})
}

func newQdrantUnderTest(t *testing.T, fake *fakeQdrant, threshold float64) *QdrantCache {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	c, err := NewQdrant(context.Background(), QdrantConfig{
		BaseURL:    server.URL,
		Collection: "llm-cache",
		Threshold:  threshold,
		Embedder:   &fakeEmbedder{},
	})
	if err != nil {
		t.Fatalf("NewQdrant: %v", err)
	}
	return c
}

func TestQdrantValidation(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}

	cases := []struct {
		name string
		cfg  QdrantConfig
	}{
		{"missing base url", QdrantConfig{Collection: "c", Threshold: 0.9, Embedder: embedder}},
		{"missing collection", QdrantConfig{BaseURL: "http://x", Threshold: 0.9, Embedder: embedder}},
		{"missing embedder", QdrantConfig{BaseURL: "http://x", Collection: "c", Threshold: 0.9}},
		{"zero threshold", QdrantConfig{BaseURL: "http://x", Collection: "c", Embedder: embedder}},
		{"threshold over one", QdrantConfig{BaseURL: "http://x", Collection: "c", Threshold: 1.5, Embedder: embedder}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewQdrant(ctx, tt.cfg); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestQdrantCreatesCollectionOnce(t *testing.T) {
	fake := newFakeQdrant()
	newQdrantUnderTest(t, fake, 0.9)
	if fake.createCalls != 1 {
		t.Fatalf("expected one create, got %d", fake.createCalls)
	}

	// a second construction finds the collection and leaves it alone
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	_, err := NewQdrant(context.Background(), QdrantConfig{
		BaseURL:    server.URL,
		Collection: "llm-cache",
		Threshold:  0.9,
		Embedder:   &fakeEmbedder{},
	})
	if err != nil {
		t.Fatalf("NewQdrant against existing collection: %v", err)
	}
	if fake.createCalls != 1 {
		t.Errorf("existing collection recreated, %d creates", fake.createCalls)
	}
}

func TestQdrantThresholdGatesHits(t *testing.T) {
	fake := newFakeQdrant()
	c := newQdrantUnderTest(t, fake, 0.9)
	ctx := context.Background()

	messages := []cache.Message{{Role: "user", Content: "what is 2+2"}}
	if err := c.SetSimilar(ctx, messages, []byte(`"four"`)); err != nil {
		t.Fatalf("SetSimilar: %v", err)
	}

	fake.searchScore = 0.95
	value, similarity, err := c.GetSimilar(ctx, messages)
	if err != nil {
		t.Fatalf("GetSimilar above threshold: %v", err)
	}
	if string(value) != `"four"` || similarity != 0.95 {
		t.Errorf("unexpected hit: %q, %v", value, similarity)
	}

	fake.searchScore = 0.5
	_, similarity, err = c.GetSimilar(ctx, messages)
	if !cache.IsCacheMiss(err) {
		t.Errorf("score below threshold should miss, got %v", err)
	}
	if similarity != 0.5 {
		t.Errorf("achieved similarity should still be reported, got %v", similarity)
	}

	fake.searchEmpty = true
	if _, _, err := c.GetSimilar(ctx, messages); !cache.IsCacheMiss(err) {
		t.Errorf("empty index should miss, got %v", err)
	}
}

func TestQdrantEmptyPrompt(t *testing.T) {
	fake := newFakeQdrant()
	c := newQdrantUnderTest(t, fake, 0.9)
	ctx := context.Background()

	if _, _, err := c.GetSimilar(ctx, nil); !cache.IsCacheMiss(err) {
		t.Errorf("empty prompt should read as a miss, got %v", err)
	}
	if err := c.SetSimilar(ctx, nil, []byte("x")); err == nil {
		t.Error("empty prompt write should fail")
	}
}
