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

// Package identity persists the random fingerprint a node's overlay
// identity is minted from across restarts, the same write-to-temp +
// rename discipline statefile uses for the control feeds, since losing a
// fingerprint on every restart would make every peer re-learn this node as
// new.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fieldmesh/meshbridge/overlay"
)

const fingerprintBytes = 16

// LoadOrCreate reads the fingerprint persisted at path, or mints and
// persists a new random one if path does not yet exist.
func LoadOrCreate(path string) (overlay.Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return overlay.Fingerprint(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	fp := make([]byte, fingerprintBytes)
	if _, err := rand.Read(fp); err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("identity: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return nil, fmt.Errorf("identity: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(fp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("identity: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("identity: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("identity: rename into place: %w", err)
	}
	return overlay.Fingerprint(fp), nil
}
