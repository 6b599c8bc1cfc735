// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traylinx/switchcache/cache"
	"github.com/traylinx/switchcache/cache/memory"
)

// countingRemote wraps an in-memory cache and counts calls so tests can see
// which tier served a read.
type countingRemote struct {
	*memory.Cache
	gets      int
	sets      int
	failGets  bool
	failSets  bool
	pipelines int
}

func newCountingRemote() *countingRemote {
	return &countingRemote{Cache: memory.New(memory.Config{})}
}

func (r *countingRemote) Get(ctx context.Context, key string) ([]byte, error) {
	r.gets++
	if r.failGets {
		return nil, errors.New("remote down")
	}
	return r.Cache.Get(ctx, key)
}

func (r *countingRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.sets++
	if r.failSets {
		return errors.New("remote down")
	}
	return r.Cache.Set(ctx, key, value, ttl)
}

func (r *countingRemote) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	r.gets++
	if r.failGets {
		return nil, errors.New("remote down")
	}
	return r.Cache.GetMulti(ctx, keys)
}

func (r *countingRemote) SetPipeline(ctx context.Context, entries []cache.Entry) error {
	r.pipelines++
	if r.failSets {
		return errors.New("remote down")
	}
	return r.Cache.SetPipeline(ctx, entries)
}

func TestWriteThroughAndLocalFirstRead(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{LocalTTL: time.Minute, RemoteTTL: time.Hour})
	ctx := context.Background()

	if err := d.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if remote.sets != 1 {
		t.Error("write did not reach the remote tier")
	}

	v, err := d.Get(ctx, "k")
	if err != nil || string(v) != "v" {
		t.Fatalf("Get: %q, %v", v, err)
	}
	if remote.gets != 0 {
		t.Error("local hit still consulted the remote tier")
	}
}

func TestPerCallTTLOverridesLocalDefault(t *testing.T) {
	d := New(nil, nil, Config{LocalTTL: time.Hour})
	ctx := context.Background()

	if err := d.Set(ctx, "short", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entries := []cache.Entry{{Key: "short-batch", Value: []byte("v"), TTL: 30 * time.Millisecond}}
	if err := d.SetPipeline(ctx, entries); err != nil {
		t.Fatalf("SetPipeline: %v", err)
	}
	// a write without its own TTL falls back to the configured local default
	if err := d.Set(ctx, "long", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	for _, key := range []string{"short", "short-batch"} {
		if _, err := d.Get(ctx, key); !cache.IsCacheMiss(err) {
			t.Errorf("%s outlived its per-call TTL, got %v", key, err)
		}
	}
	if v, err := d.Get(ctx, "long"); err != nil || string(v) != "v" {
		t.Errorf("default-TTL entry expired early: %q, %v", v, err)
	}
}

func TestReadRepair(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{LocalTTL: time.Minute})
	ctx := context.Background()

	// entry exists only remotely, as if written by another process
	if err := remote.Cache.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}

	v, err := d.Get(ctx, "k")
	if err != nil || string(v) != "v" {
		t.Fatalf("Get: %q, %v", v, err)
	}
	if remote.gets != 1 {
		t.Fatalf("expected one remote read, got %d", remote.gets)
	}

	// repaired: the next read is served locally
	if _, err := d.Get(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if remote.gets != 1 {
		t.Error("read repair did not populate the local tier")
	}
}

func TestRemoteFailureDegrades(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{})
	ctx := context.Background()

	remote.failGets = true
	if _, err := d.Get(ctx, "k"); err == nil || cache.IsCacheMiss(err) {
		t.Errorf("remote failure should surface as unavailability, got %v", err)
	}

	// a failed remote write does not undo the local one
	remote.failSets = true
	if err := d.Set(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Error("remote write failure should be reported")
	}
	ctxLocal := WithLocalOnly(ctx)
	if v, err := d.Get(ctxLocal, "k"); err != nil || string(v) != "v" {
		t.Errorf("local write lost after remote failure: %q, %v", v, err)
	}
}

func TestLocalOnlyContext(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{})
	ctx := WithLocalOnly(context.Background())

	if err := d.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if remote.sets != 0 {
		t.Error("local-only write reached the remote tier")
	}

	if err := remote.Cache.Set(context.Background(), "remote-only", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Get(ctx, "remote-only"); !cache.IsCacheMiss(err) {
		t.Errorf("local-only read consulted the remote tier, got %v", err)
	}
}

func TestGetMultiMissedSublist(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{LocalTTL: time.Minute})
	ctx := context.Background()

	if err := d.local.Set(ctx, "local", []byte("1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := remote.Cache.Set(ctx, "remote", []byte("2"), time.Hour); err != nil {
		t.Fatal(err)
	}

	got, err := d.GetMulti(ctx, []string{"local", "remote", "nowhere"})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(got) != 2 || string(got["local"]) != "1" || string(got["remote"]) != "2" {
		t.Errorf("unexpected result: %v", got)
	}

	// remote hits are repaired into the local tier
	if _, err := d.local.Get(ctx, "remote"); err != nil {
		t.Error("batch read repair did not populate the local tier")
	}

	// a fully local result never touches the remote tier
	remote.gets = 0
	if _, err := d.GetMulti(ctx, []string{"local", "remote"}); err != nil {
		t.Fatal(err)
	}
	if remote.gets != 0 {
		t.Error("fully local batch still consulted the remote tier")
	}
}

func TestGetMultiRemoteFailureReturnsLocalHits(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{})
	ctx := context.Background()

	if err := d.local.Set(ctx, "local", []byte("1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	remote.failGets = true

	got, err := d.GetMulti(ctx, []string{"local", "remote"})
	if err != nil {
		t.Fatalf("GetMulti should degrade, got %v", err)
	}
	if len(got) != 1 || string(got["local"]) != "1" {
		t.Errorf("local hits lost on remote failure: %v", got)
	}
}

func TestSetPipelineBothTiers(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{LocalTTL: time.Minute, RemoteTTL: time.Hour})
	ctx := context.Background()

	entries := []cache.Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	if err := d.SetPipeline(ctx, entries); err != nil {
		t.Fatalf("SetPipeline: %v", err)
	}
	if remote.pipelines != 1 {
		t.Errorf("expected one remote pipeline, got %d", remote.pipelines)
	}
	for _, key := range []string{"a", "b"} {
		if _, err := d.local.Get(ctx, key); err != nil {
			t.Errorf("local tier missing %s", key)
		}
		if _, err := remote.Cache.Get(ctx, key); err != nil {
			t.Errorf("remote tier missing %s", key)
		}
	}
}

func TestIncrementPrefersRemote(t *testing.T) {
	remote := newCountingRemote()
	d := New(nil, remote, Config{})
	ctx := context.Background()

	v, err := d.IncrementBy(ctx, "counter", 2)
	if err != nil || v != 2 {
		t.Fatalf("IncrementBy: %v, %v", v, err)
	}
	// the remote tier holds the authoritative counter
	if raw, err := remote.Cache.Get(ctx, "counter"); err != nil || string(raw) != "2" {
		t.Errorf("remote counter: %q, %v", raw, err)
	}

	// without a remote the local tier serves increments
	solo := New(nil, nil, Config{})
	if v, err := solo.IncrementBy(ctx, "counter", 3); err != nil || v != 3 {
		t.Errorf("local increment: %v, %v", v, err)
	}
}

func TestNoRemoteIsPlainLocal(t *testing.T) {
	d := New(nil, nil, Config{})
	ctx := context.Background()

	if err := d.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, err := d.Get(ctx, "k"); err != nil || string(v) != "v" {
		t.Errorf("Get: %q, %v", v, err)
	}
	if err := d.Ping(ctx); err != nil {
		t.Errorf("Ping without a remote should succeed: %v", err)
	}
	if err := d.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Get(ctx, "k"); !cache.IsCacheMiss(err) {
		t.Error("flush did not clear the local tier")
	}
}
