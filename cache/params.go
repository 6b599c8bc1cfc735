// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"time"
)

// Mode controls whether caching is opt-out or opt-in per call.
type Mode string

const (
	// ModeDefaultOn caches every eligible call unless it opts out.
	ModeDefaultOn Mode = "default_on"

	// ModeDefaultOff caches only calls that opt in via the cache control
	// object's use-cache flag.
	ModeDefaultOff Mode = "default_off"
)

// CallType identifies the logical provider operation being cached.
type CallType string

const (
	CallTypeCompletion    CallType = "completion"
	CallTypeEmbedding     CallType = "embedding"
	CallTypeTranscription CallType = "transcription"
)

// Params is the keyword-argument set of a provider call. Keys follow the
// OpenAI-style request shape (model, messages, temperature, ...) plus the
// reserved control keys "cache", "metadata", "call_type" and
// "preset_cache_key".
type Params map[string]any

// Metadata returns the call's metadata map, or nil.
func (p Params) Metadata() map[string]any {
	md, _ := p["metadata"].(map[string]any)
	return md
}

// CallType returns the call's declared call type, or "".
func (p Params) CallType() CallType {
	ct, _ := p["call_type"].(string)
	return CallType(ct)
}

// Messages returns the call's chat messages in a normalized form. It accepts
// either []Message or the []any-of-maps shape produced by JSON decoding.
func (p Params) Messages() []Message {
	switch v := p["messages"].(type) {
	case []Message:
		return v
	case []map[string]any:
		out := make([]Message, 0, len(v))
		for _, m := range v {
			out = append(out, messageFromMap(m))
		}
		return out
	case []any:
		out := make([]Message, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, messageFromMap(m))
			} else if m, ok := item.(Message); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func messageFromMap(m map[string]any) Message {
	role, _ := m["role"].(string)
	content, _ := m["content"].(string)
	return Message{Role: role, Content: content}
}

// Control is the per-call cache control object, passed as the "cache" key of
// Params. The zero value leaves every facade default in place.
type Control struct {
	// TTL overrides the write TTL for this call only.
	TTL time.Duration

	// MaxAge rejects cached entries older than this on read. Valid only
	// when HasMaxAge is set; a zero MaxAge with HasMaxAge means "nothing
	// cached is fresh enough".
	MaxAge    time.Duration
	HasMaxAge bool

	// UseCache opts a call into caching when the facade mode is
	// default_off.
	UseCache *bool

	// NoCache skips the cache read for this call (force fresh).
	NoCache bool

	// NoStore skips the cache write for this call. Internal embedding
	// calls use it to exempt themselves from recursive caching.
	NoStore bool
}

// ParseControl extracts the cache control object from a call's params. It
// accepts a typed Control, a *Control, or the map shape produced by JSON
// decoding (keys "ttl", "s-max-age"/"s-maxage", "use-cache", "no-cache",
// "no-store" with numeric values in seconds).
func ParseControl(p Params) Control {
	switch v := p["cache"].(type) {
	case Control:
		return v
	case *Control:
		if v != nil {
			return *v
		}
	case map[string]any:
		return controlFromMap(v)
	}
	return Control{}
}

func controlFromMap(m map[string]any) Control {
	var c Control
	if secs, ok := toSeconds(m["ttl"]); ok {
		c.TTL = secs
	}
	if raw, present := m["s-max-age"]; present {
		if secs, ok := toSeconds(raw); ok {
			c.MaxAge = secs
			c.HasMaxAge = true
		}
	} else if raw, present := m["s-maxage"]; present {
		if secs, ok := toSeconds(raw); ok {
			c.MaxAge = secs
			c.HasMaxAge = true
		}
	}
	if b, ok := m["use-cache"].(bool); ok {
		c.UseCache = &b
	}
	if b, ok := m["no-cache"].(bool); ok {
		c.NoCache = b
	}
	if b, ok := m["no-store"].(bool); ok {
		c.NoStore = b
	}
	return c
}

func toSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case time.Duration:
		return n, true
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n * float64(time.Second)), true
	}
	return 0, false
}
