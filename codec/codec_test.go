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

package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestDict(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cot.dict")
	dict := bytes.Repeat([]byte("<event version=\"2.0\" uid=\"ATAK-\" type=\"a-f-G-U-C\">"), 8)
	require.NoError(t, os.WriteFile(path, dict, 0o644))
	return path
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	c, err := New(writeTestDict(t), 0, 0)
	require.NoError(t, err)

	payload := []byte(`<event version="2.0" uid="ATAK-1234" type="a-f-G-U-C"><point lat="1.0" lon="2.0"/></event>`)

	compressed, err := c.Compress(payload)
	require.NoError(t, err)

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}

func TestCompressSizeExceeded(t *testing.T) {
	c, err := New(writeTestDict(t), 0, 16)
	require.NoError(t, err)

	payload := []byte(strings.Repeat("incompressible-ish-filler-", 200))
	_, err = c.Compress(payload)
	require.ErrorIs(t, err, ErrSizeExceeded)
}

func TestDecompressFailedOnGarbage(t *testing.T) {
	c, err := New(writeTestDict(t), 0, 0)
	require.NoError(t, err)

	_, err = c.Decompress([]byte("not a zstd frame"))
	require.ErrorIs(t, err, ErrDecompressFailed)
}
