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

package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAtomicAndReadFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_status")

	ns := &NodeStatus{
		Timestamp: 100,
		Nodes: map[string]Node{
			"aa:bb": {Hostname: "relay-1", Mode: ModeFast},
		},
	}
	require.NoError(t, WriteAtomic(path, ns))

	got, err := ReadFresh[NodeStatus](path)
	require.NoError(t, err)
	require.Equal(t, ns.Timestamp, got.Timestamp)
	require.Equal(t, ModeFast, got.Nodes["aa:bb"].Mode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file after rename")
}

func TestReaderToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer_discovery")

	r := NewReader[PeerDiscovery](path)
	_, err := r.Read()
	require.Error(t, err, "no good value yet, missing file must surface")

	require.NoError(t, WriteAtomic(path, &PeerDiscovery{Timestamp: 1, Peers: map[string]PeerRecord{
		"node-a": {DestinationHash: "deadbeef", LastSeen: 1},
	}}))

	got, err := r.Read()
	require.NoError(t, err)
	require.True(t, got.Has("node-a"))

	require.NoError(t, os.Remove(path))

	stale, err := r.Read()
	require.NoError(t, err, "missing file after a good read should serve the cached value")
	require.True(t, stale.Has("node-a"))
}

func TestReaderToleratesMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_status")

	require.NoError(t, WriteAtomic(path, &NodeStatus{Timestamp: 5}))
	r := NewReader[NodeStatus](path)
	first, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, int64(5), first.Timestamp)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	again, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, int64(5), again.Timestamp, "malformed write must not clobber the cached good value")
}
