// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package embedding provides a local ONNX-based embedding engine for the
// semantic cache backends. It runs a MiniLM-class model producing
// 384-dimensional normalized vectors, so no network call is needed to embed
// a prompt.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// Dimension is the output dimension of the MiniLM model family.
	Dimension = 384

	// maxSequenceLength bounds the tokenized model input.
	maxSequenceLength = 256
)

// Config locates the model artifacts.
type Config struct {
	// ModelPath is the ONNX model file. Required.
	ModelPath string `yaml:"model-path"`

	// VocabPath is the WordPiece vocabulary file. Optional; a built-in
	// minimal vocabulary is used when absent.
	VocabPath string `yaml:"vocab-path"`

	// SharedLibraryPath points at the ONNX runtime shared library when it
	// is not on the default loader path.
	SharedLibraryPath string `yaml:"shared-library-path"`
}

// Engine embeds text with a local ONNX session. It implements the semantic
// package's Embedder interface. A single Engine is shared across callers;
// inference runs under a read lock so Close cannot race a running session.
type Engine struct {
	mu        sync.RWMutex
	session   *ort.DynamicAdvancedSession
	tokenizer *wordpieceTokenizer
	closed    bool
}

// New loads the model and prepares the engine. A missing model file is a
// deployment error and fails construction.
func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("embedding: model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("embedding: model file %s: %w", cfg.ModelPath, err)
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("embedding: initialize onnx runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("embedding: session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding: load model: %w", err)
	}

	tok, err := newWordpieceTokenizer(cfg.VocabPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("embedding: load vocabulary: %w", err)
	}

	log.Infof("embedding engine ready with model %s", filepath.Base(cfg.ModelPath))
	return &Engine{session: session, tokenizer: tok}, nil
}

// Embed computes the normalized embedding vector for text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New("embedding: engine is closed")
	}
	tokens := e.tokenizer.tokenize(text, maxSequenceLength)
	return e.infer(tokens)
}

func (e *Engine) infer(tokens tokenizedInput) ([]float32, error) {
	seqLen := int64(len(tokens.inputIDs))

	inputIDs, err := ort.NewTensor(ort.NewShape(1, seqLen), tokens.inputIDs)
	if err != nil {
		return nil, fmt.Errorf("embedding: input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attentionMask, err := ort.NewTensor(ort.NewShape(1, seqLen), tokens.attentionMask)
	if err != nil {
		return nil, fmt.Errorf("embedding: attention_mask tensor: %w", err)
	}
	defer attentionMask.Destroy()

	tokenTypeIDs, err := ort.NewTensor(ort.NewShape(1, seqLen), tokens.tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("embedding: token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDs.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, Dimension))
	if err != nil {
		return nil, fmt.Errorf("embedding: output tensor: %w", err)
	}
	defer output.Destroy()

	err = e.session.Run(
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding: inference: %w", err)
	}

	return normalize(meanPool(output.GetData(), tokens.attentionMask)), nil
}

// meanPool averages the token embeddings weighted by the attention mask.
func meanPool(hidden []float32, attentionMask []int64) []float32 {
	pooled := make([]float32, Dimension)
	var weight float32
	for i, mask := range attentionMask {
		if mask != 1 {
			continue
		}
		for j := 0; j < Dimension; j++ {
			pooled[j] += hidden[i*Dimension+j]
		}
		weight++
	}
	if weight > 0 {
		for j := range pooled {
			pooled[j] /= weight
		}
	}
	return pooled
}

// normalize applies L2 normalization in place.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// CosineSimilarity computes the cosine similarity of two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Close releases the ONNX session. The engine cannot be reused afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}
