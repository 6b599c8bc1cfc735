// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// cacheableParams is the canonical parameter order for fingerprint
// derivation: completion params first, then embedding-only, then
// transcription-only. The order is part of the on-disk key format: changing
// it invalidates every existing cache entry, so it must stay a fixed list and
// never be rebuilt from an unordered collection.
var cacheableParams = []string{
	// completion
	"model",
	"messages",
	"prompt",
	"temperature",
	"top_p",
	"n",
	"stop",
	"max_tokens",
	"presence_penalty",
	"frequency_penalty",
	"logit_bias",
	"user",
	"response_format",
	"seed",
	"tools",
	"tool_choice",
	"stream",
	// embedding only
	"input",
	"encoding_format",
	// transcription only
	"file",
	"language",
}

// reservedParams are control keys that are never hashed, even when
// provider-specific param hashing is enabled.
var reservedParams = map[string]bool{
	"cache":            true,
	"metadata":         true,
	"call_type":        true,
	"preset_cache_key": true,
}

// KeyGenerator derives deterministic fingerprints from call params.
type KeyGenerator struct {
	// Namespace is prefixed to every fingerprint as "{namespace}:". A
	// per-call namespace in the call's metadata takes precedence.
	Namespace string

	// CachingGroups are sets of model aliases that share cache entries as
	// one logical model. When a call's metadata declares a model_group
	// belonging to a group, the group's first member is hashed in place of
	// the literal model name.
	CachingGroups [][]string

	// IncludeProviderParams also hashes provider-specific optional params
	// (e.g. top_k) that are outside the canonical list.
	IncludeProviderParams bool
}

// Fingerprint returns the cache key for a call. Two logically identical
// calls always produce the same key regardless of map key order, because the
// hash input is built by walking cacheableParams in its fixed order. The
// function never fails; at worst it hashes whatever subset of params it
// could stringify, so a degenerate key still lets the caller's request
// proceed uncached.
func (g *KeyGenerator) Fingerprint(p Params) string {
	// Streaming calls pass the key computed before provider-specific
	// parameter rewriting so that all chunks land under one entry.
	if preset, ok := p["preset_cache_key"].(string); ok && preset != "" {
		return preset
	}

	var b strings.Builder
	for _, param := range cacheableParams {
		raw, present := p[param]
		if !present || raw == nil {
			continue
		}

		var value string
		switch param {
		case "model":
			value = g.modelValue(p, raw)
		case "file":
			value = fileValue(p, raw)
			if value == "" {
				continue
			}
		default:
			value = paramString(raw)
		}
		b.WriteString(param)
		b.WriteString(": ")
		b.WriteString(value)
	}

	if g.IncludeProviderParams {
		extras := make([]string, 0, 4)
		for param := range p {
			if raw := p[param]; raw == nil || reservedParams[param] || isCacheable(param) {
				continue
			}
			extras = append(extras, param)
		}
		// map iteration order is random; sort for a stable hash
		sort.Strings(extras)
		for _, param := range extras {
			b.WriteString(param)
			b.WriteString(": ")
			b.WriteString(paramString(p[param]))
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	key := hex.EncodeToString(sum[:])

	if ns := g.namespaceFor(p); ns != "" {
		key = ns + ":" + key
	}
	return key
}

// namespaceFor resolves the effective namespace. The per-call metadata
// namespace wins over the generator-level one when both are present.
func (g *KeyGenerator) namespaceFor(p Params) string {
	if md := p.Metadata(); md != nil {
		if ns, ok := md["namespace"].(string); ok && ns != "" {
			return ns
		}
	}
	return g.Namespace
}

// modelValue substitutes the caching group identifier (its first member) or
// the model group for the literal model name, so that multiple deployments
// of one logical model share cache entries.
func (g *KeyGenerator) modelValue(p Params, raw any) string {
	var modelGroup string
	groups := g.CachingGroups

	if md := p.Metadata(); md != nil {
		if mg, ok := md["model_group"].(string); ok {
			modelGroup = mg
		}
		if cg := cachingGroupsFromMetadata(md); cg != nil {
			groups = cg
		}
	}

	if modelGroup != "" {
		for _, group := range groups {
			for _, member := range group {
				if member == modelGroup {
					return group[0]
				}
			}
		}
		return modelGroup
	}
	return paramString(raw)
}

func cachingGroupsFromMetadata(md map[string]any) [][]string {
	raw, ok := md["caching_groups"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case [][]string:
		return v
	case []any:
		out := make([][]string, 0, len(v))
		for _, item := range v {
			switch group := item.(type) {
			case []string:
				out = append(out, group)
			case []any:
				members := make([]string, 0, len(group))
				for _, m := range group {
					if s, ok := m.(string); ok {
						members = append(members, s)
					}
				}
				out = append(out, members)
			}
		}
		return out
	}
	return nil
}

// fileValue resolves the hash input for transcription file params without
// ever touching the raw binary: an explicit content checksum first, then the
// file's name, then a metadata-supplied name.
func fileValue(p Params, raw any) string {
	md := p.Metadata()
	if md != nil {
		if sum, ok := md["file_checksum"].(string); ok && sum != "" {
			return sum
		}
	}
	if named, ok := raw.(interface{ Name() string }); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	if s, ok := raw.(string); ok && s != "" {
		return s
	}
	if md != nil {
		if name, ok := md["file_name"].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

func isCacheable(param string) bool {
	for _, p := range cacheableParams {
		if p == param {
			return true
		}
	}
	return false
}

// paramString renders a param value for hashing. fmt prints map keys in
// sorted order, which is what makes the fingerprint independent of the key
// order callers used when building nested objects.
func paramString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// FingerprintFromJSON derives a fingerprint straight from a raw OpenAI-style
// request body, for callers that hold the wire bytes rather than a decoded
// param map. The cache control object is stripped before decoding; metadata
// is kept so per-call namespace and caching-group overrides still apply.
func (g *KeyGenerator) FingerprintFromJSON(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	if stripped, err := sjson.DeleteBytes(body, "cache"); err == nil {
		body = stripped
	}
	decoded, ok := gjson.ParseBytes(body).Value().(map[string]any)
	if !ok {
		return ""
	}
	return g.Fingerprint(Params(decoded))
}
