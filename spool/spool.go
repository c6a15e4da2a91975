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

// Package spool implements the on-disk, three-directory staged queue shared
// between the Packet Bridge and the Reliable Overlay Sender: pending/,
// sent_buffer/ and incoming/. Movement between stages -- and claiming a file
// for processing -- is always an atomic rename on the same filesystem; it is
// the only durability and ordering mechanism in the system, so this package
// never does anything else to a spool file's bytes.
package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrIOFailure wraps any I/O error from a spool operation. Per spec, it is
// never fatal: callers log it rate-limited and retry on the next tick.
var ErrIOFailure = errors.New("spool: io failure")

// Stage names one of the three spool directories.
type Stage string

// The three spool stages.
const (
	Pending    Stage = "pending"
	SentBuffer Stage = "sent_buffer"
	Incoming   Stage = "incoming"
)

var allStages = []Stage{Pending, SentBuffer, Incoming}

const fileExt = ".bin"

// File is one spool entry.
type File struct {
	Stage Stage
	Name  string // base filename, "<ts_ms>.bin"
	Path  string // absolute path
	TSms  int64  // millisecond timestamp parsed out of Name
}

// Spool is the shared on-disk queue rooted at Root. Root must contain (or be
// creatable to contain) pending/, sent_buffer/ and incoming/ subdirectories,
// all on the same filesystem so that renames between them are atomic.
type Spool struct {
	Root string
}

// New returns a Spool rooted at root, creating the three stage directories if
// they do not already exist.
func New(root string) (*Spool, error) {
	s := &Spool{Root: root}
	for _, st := range allStages {
		if err := os.MkdirAll(s.dir(st), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIOFailure, st, err)
		}
	}
	return s, nil
}

func (s *Spool) dir(stage Stage) string {
	return filepath.Join(s.Root, string(stage))
}

// Write atomically writes data as a new file in stage, named by the current
// millisecond timestamp, via write-to-temp + rename within the same stage
// directory. It returns the resulting File.
func (s *Spool) Write(stage Stage, data []byte) (File, error) {
	ts := time.Now().UnixMilli()
	name := fmt.Sprintf("%d%s", ts, fileExt)
	dir := s.dir(stage)
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return File{}, fmt.Errorf("%w: create temp in %s: %v", ErrIOFailure, stage, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return File{}, fmt.Errorf("%w: write %s: %v", ErrIOFailure, stage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return File{}, fmt.Errorf("%w: close %s: %v", ErrIOFailure, stage, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return File{}, fmt.Errorf("%w: rename into %s: %v", ErrIOFailure, stage, err)
	}
	return File{Stage: stage, Name: name, Path: final, TSms: ts}, nil
}

// List returns every file currently in stage, oldest-first by the timestamp
// encoded in its filename.
func (s *Spool) List(stage Stage) ([]File, error) {
	entries, err := os.ReadDir(s.dir(stage))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIOFailure, stage, err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") || strings.HasPrefix(e.Name(), ".claim-") {
			continue
		}
		ts, ok := parseTS(e.Name())
		if !ok {
			continue
		}
		files = append(files, File{
			Stage: stage,
			Name:  e.Name(),
			Path:  filepath.Join(s.dir(stage), e.Name()),
			TSms:  ts,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].TSms < files[j].TSms })
	return files, nil
}

func parseTS(name string) (int64, bool) {
	base := strings.TrimSuffix(name, fileExt)
	ts, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// MoveTo atomically renames f from its current stage into dst, preserving
// its filename. The file is never present in two directories at once.
func (s *Spool) MoveTo(f File, dst Stage) (File, error) {
	newPath := filepath.Join(s.dir(dst), f.Name)
	if err := os.Rename(f.Path, newPath); err != nil {
		return File{}, fmt.Errorf("%w: move %s -> %s: %v", ErrIOFailure, f.Stage, dst, err)
	}
	f.Stage = dst
	f.Path = newPath
	return f, nil
}

// ClaimForProcessing atomically renames f to a ".claim-" scratch name within
// the same directory and returns that path. List skips claimed files, and
// nothing in this package renames them back on its own: after a crash
// between the claim and the eventual Remove, the bytes stay on disk under
// the scratch name and do not resurface on a later List pass.
func (s *Spool) ClaimForProcessing(f File) (string, error) {
	scratch := filepath.Join(s.dir(f.Stage), ".claim-"+f.Name)
	if err := os.Rename(f.Path, scratch); err != nil {
		return "", fmt.Errorf("%w: claim %s: %v", ErrIOFailure, f.Name, err)
	}
	return scratch, nil
}

// ReleaseClaim renames a claimed scratch file back to its original name,
// used when processing fails after a successful claim and the file should
// resurface immediately rather than waiting for a crash-recovery pass.
func (s *Spool) ReleaseClaim(f File, scratchPath string) error {
	if err := os.Rename(scratchPath, f.Path); err != nil {
		return fmt.Errorf("%w: release claim %s: %v", ErrIOFailure, f.Name, err)
	}
	return nil
}

// Remove deletes a path produced by Write, MoveTo or ClaimForProcessing.
func (s *Spool) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrIOFailure, path, err)
	}
	return nil
}

// PurgeAll empties all three spool stages. Called on quiescence (no node is
// currently SLOW) to prevent unbounded accumulation while there is no
// fallback work to do.
func (s *Spool) PurgeAll() error {
	for _, st := range allStages {
		files, err := s.List(st)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := s.Remove(f.Path); err != nil {
				return err
			}
		}
	}
	return nil
}
