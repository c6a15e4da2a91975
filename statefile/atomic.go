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

// Package statefile implements the two shared, single-writer/multi-reader
// JSON control feeds (node_status, peer_discovery): atomic write-to-temp +
// rename, and a stale-read-tolerant reader that keeps serving the last
// successfully parsed value across a transient ParseFailure rather than
// overwriting good state with a bad read.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrParseFailure is returned by Reader.Read when the file on disk could not
// be parsed. Per spec, this is not fatal: the previous successfully-parsed
// value still holds.
var ErrParseFailure = errors.New("statefile: parse failure")

// WriteAtomic marshals v to JSON and writes it to path via write-to-temp +
// atomic rename within the same directory, so no reader ever observes a
// partially written file.
func WriteAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("statefile: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("statefile: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statefile: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statefile: sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statefile: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statefile: rename into place %s: %w", path, err)
	}
	return nil
}

// ReadFresh reads and parses path into a new value of type T, with no
// staleness caching. Used by meshbridgectl, which wants the file as it is
// now, and by Reader below.
func ReadFresh[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailure, path, err)
	}
	return &v, nil
}

// Reader wraps a state file path and caches the last successfully parsed
// value, so a transient missing file or malformed JSON (a writer caught
// mid-rename, or not yet started) never disrupts a reader -- it just keeps
// serving what it last saw, per spec.md's "previous successfully-parsed
// value still holds" contract.
type Reader[T any] struct {
	path string
	last *T
}

// NewReader creates a Reader for path. Until the first successful read,
// Read returns the read or parse error.
func NewReader[T any](path string) *Reader[T] {
	return &Reader[T]{path: path}
}

// Read returns the freshest successfully-parsed value. If the current read
// fails (missing file, malformed JSON), it silently returns the last good
// value instead, unless there has never been a good value, in which case it
// returns the error.
func (r *Reader[T]) Read() (*T, error) {
	v, err := ReadFresh[T](r.path)
	if err != nil {
		if r.last != nil {
			return r.last, nil
		}
		return nil, err
	}
	r.last = v
	return v, nil
}
