// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package semantic implements similarity-based cache backends: instead of an
// exact key match, the call's messages are embedded and looked up by nearest
// neighbor in a vector index, gated by a similarity threshold.
package semantic

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/traylinx/switchcache/cache"
)

// Embedder turns text into an embedding vector. The ONNX engine in
// internal/embedding implements it; tests plug in fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MaxPromptTokens bounds the prompt fed to the embedding model. Longer
// prompts are truncated on a token boundary before embedding.
const MaxPromptTokens = 256

// Prompt flattens a call's messages into the single string that gets
// embedded: all message contents concatenated in order, truncated to the
// token budget.
func Prompt(messages []cache.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
	}
	return TruncateTokens(b.String(), MaxPromptTokens)
}

var encOnce = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
})

// TruncateTokens cuts text down to at most maxTokens tokens. On tokenizer
// failure the text is returned unchanged; a slightly long prompt only costs
// embedding accuracy, never the request.
func TruncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	enc, err := encOnce()
	if err != nil {
		return text
	}
	ids, _, err := enc.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	truncated, err := enc.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return truncated
}

// EncodeVector serializes an embedding as little-endian float32 bytes, the
// layout RediSearch vector fields expect.
func EncodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
