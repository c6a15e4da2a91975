/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package codec compresses and decompresses multicast payloads with a
// pre-trained dictionary specialized to the payload family (CoT XML), under
// a hard size cap. The dictionary's exact derivation is undocumented upstream
// and is preserved as-is: this package only ever loads it, never generates
// it.
package codec

import (
	"errors"
	"fmt"
	"os"

	"github.com/DataDog/zstd"
)

// DefaultMaxBytes is the hard size cap a compressed payload must fit under to
// be considered usable over the overlay radio link.
const DefaultMaxBytes = 350

// DefaultLevel is the zstd compression level used when none is configured.
const DefaultLevel = 19

// Sentinel errors. None of these are fatal; callers discard the one payload
// and continue.
var (
	ErrSizeExceeded     = errors.New("codec: compressed size exceeds max_bytes")
	ErrCompressFailed   = errors.New("codec: compress failed")
	ErrDecompressFailed = errors.New("codec: decompress failed")
)

// Codec holds an immutable dictionary loaded once at construction, per the
// "dictionary as an immutable resource owned by the Codec instance" design
// note.
type Codec struct {
	dict     []byte
	level    int
	maxBytes int
	ctx      zstd.Ctx
}

// New loads the dictionary at dictPath and returns a ready Codec. level and
// maxBytes fall back to DefaultLevel/DefaultMaxBytes when zero.
func New(dictPath string, level, maxBytes int) (*Codec, error) {
	dict, err := os.ReadFile(dictPath)
	if err != nil {
		return nil, fmt.Errorf("codec: read dictionary %s: %w", dictPath, err)
	}
	if level == 0 {
		level = DefaultLevel
	}
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{
		dict:     dict,
		level:    level,
		maxBytes: maxBytes,
		ctx:      zstd.NewCtx(),
	}, nil
}

// Compress returns the compressed form of payload if and only if it fits
// within maxBytes; otherwise it returns ErrSizeExceeded. It never mutates or
// retains a reference to payload. Compression level applies to the
// dictionary-less path only: the dictionary API underlying CompressDict
// always compresses at its own internal default level, a documented
// limitation of this binding.
func (c *Codec) Compress(payload []byte) ([]byte, error) {
	var out []byte
	var err error
	if len(c.dict) > 0 {
		out, err = c.ctx.CompressDict(nil, payload, c.dict)
	} else {
		out, err = c.ctx.CompressLevel(nil, payload, c.level)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}
	if len(out) > c.maxBytes {
		return nil, ErrSizeExceeded
	}
	return out, nil
}

// Decompress reverses Compress. It never mutates or retains a reference to
// data.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	var out []byte
	var err error
	if len(c.dict) > 0 {
		out, err = c.ctx.DecompressDict(nil, data, c.dict)
	} else {
		out, err = c.ctx.Decompress(nil, data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}
