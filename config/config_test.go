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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadConfigEmptyPathReturnsDefaults(t *testing.T) {
	c, err := ReadConfig("")
	require.NoError(t, err)
	require.Equal(t, 3, c.LQM.FailureCount)
	require.Equal(t, 60*time.Second, c.PDS.AnnounceInterval)
}

func TestReadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshbridge.yaml")
	body := []byte("lqm:\n  failure_count: 7\npb:\n  max_bytes: 512\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7, c.LQM.FailureCount)
	require.Equal(t, 512, c.PB.MaxBytes)
	// untouched defaults survive the partial override
	require.Equal(t, 10, c.LQM.RecoveryCount)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
