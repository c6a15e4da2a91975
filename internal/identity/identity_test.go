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

package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreatePersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity")

	fp1, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.Len(t, fp1, fingerprintBytes)

	fp2, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.True(t, fp1.Equal(fp2))
}

func TestLoadOrCreateDistinctPathsDiffer(t *testing.T) {
	dir := t.TempDir()

	fp1, err := LoadOrCreate(filepath.Join(dir, "a"))
	require.NoError(t, err)
	fp2, err := LoadOrCreate(filepath.Join(dir, "b"))
	require.NoError(t, err)

	require.False(t, fp1.Equal(fp2))
}
