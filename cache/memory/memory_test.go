// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/traylinx/switchcache/cache"
)

func TestGetSetDelete(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !cache.IsCacheMiss(err) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := c.Get(ctx, "k")
	if err != nil || string(v) != "v" {
		t.Fatalf("Get: %q, %v", v, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !cache.IsCacheMiss(err) {
		t.Errorf("expected miss after delete, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// still alive exactly at the deadline
	now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("entry at its deadline should still be readable: %v", err)
	}

	now = now.Add(time.Nanosecond)
	if _, err := c.Get(ctx, "k"); !cache.IsCacheMiss(err) {
		t.Errorf("expected miss past the deadline, got %v", err)
	}
	if c.Size() != 0 {
		t.Error("expired entry not lazily evicted")
	}
}

func TestSweepAtCapacity(t *testing.T) {
	c := New(Config{MaxSize: 4})
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("old-%d", i)
		if err := c.Set(ctx, key, []byte("v"), time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	// all four expire, then a write over the soft max sweeps them
	now = now.Add(2 * time.Second)
	if err := c.Set(ctx, "fresh", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := c.Size(); got != 1 {
		t.Errorf("expected sweep to leave 1 entry, got %d", got)
	}
	if _, err := c.Get(ctx, "fresh"); err != nil {
		t.Errorf("live entry lost in sweep: %v", err)
	}
}

func TestSweepKeepsLiveEntries(t *testing.T) {
	c := New(Config{MaxSize: 2})
	ctx := context.Background()

	if err := c.Set(ctx, "a", []byte("1"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "b", []byte("2"), time.Hour); err != nil {
		t.Fatal(err)
	}
	// over the soft max, but nothing is expired so nothing may be dropped
	if err := c.Set(ctx, "c", []byte("3"), time.Hour); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, err := c.Get(ctx, key); err != nil {
			t.Errorf("live entry %s dropped: %v", key, err)
		}
	}
}

func TestIncrementBy(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	v, err := c.IncrementBy(ctx, "counter", 1.5)
	if err != nil || v != 1.5 {
		t.Fatalf("first increment: %v, %v", v, err)
	}
	v, err = c.IncrementBy(ctx, "counter", 2.5)
	if err != nil || v != 4 {
		t.Fatalf("second increment: %v, %v", v, err)
	}

	raw, err := c.Get(ctx, "counter")
	if err != nil || string(raw) != "4" {
		t.Errorf("counter not readable as a value: %q, %v", raw, err)
	}
}

func TestIncrementKeepsRemainingTTL(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "counter", []byte("10"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := c.IncrementBy(ctx, "counter", 1); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute + time.Second)
	if _, err := c.Get(ctx, "counter"); !cache.IsCacheMiss(err) {
		t.Error("increment extended the entry's TTL")
	}
}

func TestBatchOperations(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	entries := []cache.Entry{
		{Key: "a", Value: []byte("1"), TTL: time.Minute},
		{Key: "b", Value: []byte("2"), TTL: time.Minute},
	}
	if err := c.SetPipeline(ctx, entries); err != nil {
		t.Fatalf("SetPipeline: %v", err)
	}

	got, err := c.GetMulti(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Errorf("unexpected batch result: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing key present in batch result")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Config{MaxSize: 64})
	ctx := context.Background()

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d", i%32)
				_ = c.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = c.Get(ctx, key)
				_, _ = c.IncrementBy(ctx, "shared", 1)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}

	v, err := c.IncrementBy(ctx, "shared", 0)
	if err != nil || v != 8*200 {
		t.Errorf("lost increments: got %v, want %d", v, 8*200)
	}
}
