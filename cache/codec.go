// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// envelope is the persisted layout of every exact-key entry: the wall-clock
// write time plus the serialized provider response. The shape is part of the
// storage contract: entries written by older processes must keep decoding.
type envelope struct {
	Timestamp float64         `json:"timestamp"`
	Response  json.RawMessage `json:"response"`
}

// DefaultCompressionThreshold is the payload size in bytes above which the
// codec gzips envelopes before storage.
const DefaultCompressionThreshold = 4096

var gzipMagic = []byte{0x1f, 0x8b}

type codec struct {
	// compressionThreshold of 0 disables compression.
	compressionThreshold int
}

// encode wraps result in a timestamped envelope and serializes it,
// compressing payloads over the threshold.
func (c codec) encode(result any, now time.Time) ([]byte, error) {
	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal response: %w", err)
	}
	raw, err := json.Marshal(envelope{
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Response:  response,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: marshal envelope: %w", err)
	}
	if c.compressionThreshold > 0 && len(raw) >= c.compressionThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("cache: compress envelope: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("cache: compress envelope: %w", err)
		}
		return buf.Bytes(), nil
	}
	return raw, nil
}

// decode parses a stored payload back into the response value and its write
// timestamp. Values written by legacy writers that predate the envelope
// format are tolerated: a bare JSON value decodes as itself with a zero
// timestamp, and anything else comes back as a raw string.
func (c codec) decode(raw []byte) (response any, writtenAt time.Time, err error) {
	if bytes.HasPrefix(raw, gzipMagic) {
		zr, zerr := gzip.NewReader(bytes.NewReader(raw))
		if zerr != nil {
			return nil, time.Time{}, fmt.Errorf("cache: decompress envelope: %w", zerr)
		}
		raw, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("cache: decompress envelope: %w", err)
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Timestamp > 0 && len(env.Response) > 0 {
		writtenAt = time.Unix(0, int64(env.Timestamp*float64(time.Second)))
		if err := json.Unmarshal(env.Response, &response); err != nil {
			// response stored by a non-JSON-aware writer
			return string(env.Response), writtenAt, nil
		}
		return response, writtenAt, nil
	}

	// legacy value with no envelope
	if err := json.Unmarshal(raw, &response); err == nil {
		return response, time.Time{}, nil
	}
	return string(raw), time.Time{}, nil
}
