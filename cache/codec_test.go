// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	c := codec{}
	now := time.Now()

	raw, err := c.encode(map[string]any{"answer": "42"}, now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	response, writtenAt, err := c.decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := response.(map[string]any)
	if !ok || m["answer"] != "42" {
		t.Errorf("unexpected response: %v", response)
	}
	if d := writtenAt.Sub(now); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("timestamp drifted by %v", d)
	}
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	c := codec{compressionThreshold: DefaultCompressionThreshold}

	small, err := c.encode("tiny", time.Now())
	if err != nil {
		t.Fatalf("encode small: %v", err)
	}
	if bytes.HasPrefix(small, gzipMagic) {
		t.Error("payload under the threshold was compressed")
	}

	large := strings.Repeat("the quick brown fox ", 1024)
	raw, err := c.encode(large, time.Now())
	if err != nil {
		t.Fatalf("encode large: %v", err)
	}
	if !bytes.HasPrefix(raw, gzipMagic) {
		t.Fatal("payload over the threshold was not compressed")
	}
	if len(raw) >= len(large) {
		t.Errorf("compression did not shrink the payload: %d bytes", len(raw))
	}

	response, _, err := c.decode(raw)
	if err != nil {
		t.Fatalf("decode compressed: %v", err)
	}
	if response != large {
		t.Error("compressed payload did not round-trip")
	}
}

func TestCodecDisabledCompression(t *testing.T) {
	c := codec{}
	large := strings.Repeat("x", 2*DefaultCompressionThreshold)
	raw, err := c.encode(large, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.HasPrefix(raw, gzipMagic) {
		t.Error("compression ran with a zero threshold")
	}
}

func TestCodecLegacyValues(t *testing.T) {
	c := codec{}

	// bare JSON value written before the envelope format existed
	response, writtenAt, err := c.decode([]byte(`{"id":"old-entry"}`))
	if err != nil {
		t.Fatalf("decode bare JSON: %v", err)
	}
	if !writtenAt.IsZero() {
		t.Error("legacy value should have no timestamp")
	}
	if m, ok := response.(map[string]any); !ok || m["id"] != "old-entry" {
		t.Errorf("unexpected legacy response: %v", response)
	}

	// opaque non-JSON value comes back as a string
	response, _, err = c.decode([]byte("plain text value"))
	if err != nil {
		t.Fatalf("decode opaque: %v", err)
	}
	if response != "plain text value" {
		t.Errorf("opaque value mangled: %v", response)
	}
}
