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

package pds

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/overlay/overlaynoop"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

func testCfg(t *testing.T) config.PDS {
	return config.PDS{
		AnnounceInterval: time.Hour, // tests call announce()/onAnnounce() directly
		PeerTimeout:      time.Minute,
		AppName:          "meshbridge",
		Aspect:           "pds",
		StatePath:        filepath.Join(t.TempDir(), "peer_discovery.json"),
	}
}

func TestOnAnnounceUpsertsPeerAndWritesState(t *testing.T) {
	hub := overlaynoop.NewHub(true)
	nodeA := overlaynoop.NewNode(hub, []byte("node-a-fp"))
	nodeB := overlaynoop.NewNode(hub, []byte("node-b-fp"))

	cfg := testCfg(t)
	svcA, err := NewService(cfg, "node-a", nodeA, stats.NewJSONStats())
	require.NoError(t, err)

	_, ok := svcA.Peer("node-b")
	require.False(t, ok)

	svcA.onAnnounce([]byte("node-b-dest"), nodeB.LocalIdentity(), []byte("node-b"))

	peer, ok := svcA.Peer("node-b")
	require.True(t, ok)
	require.Equal(t, "node-b", peer.Hostname)

	st, err := statefile.ReadFresh[statefile.PeerDiscovery](cfg.StatePath)
	require.NoError(t, err)
	require.True(t, st.Has("node-b"))
}

func TestMaintainEvictsStalePeers(t *testing.T) {
	hub := overlaynoop.NewHub(true)
	nodeA := overlaynoop.NewNode(hub, []byte("node-a-fp"))

	cfg := testCfg(t)
	cfg.PeerTimeout = 10 * time.Millisecond
	svcA, err := NewService(cfg, "node-a", nodeA, stats.NewJSONStats())
	require.NoError(t, err)

	svcA.peers.upsert("node-b", []byte("node-b-dest"), time.Now().Add(-time.Hour))
	svcA.maintain()

	_, ok := svcA.Peer("node-b")
	require.False(t, ok)
}

func TestAnnounceIsDeliveredAcrossHub(t *testing.T) {
	hub := overlaynoop.NewHub(true)
	nodeA := overlaynoop.NewNode(hub, []byte("node-a-fp"))
	nodeB := overlaynoop.NewNode(hub, []byte("node-b-fp"))

	cfg := testCfg(t)
	svcA, err := NewService(cfg, "node-a", nodeA, stats.NewJSONStats())
	require.NoError(t, err)
	svcB, err := NewService(cfg, "node-b", nodeB, stats.NewJSONStats())
	require.NoError(t, err)
	defer svcB.Close()

	svcA.Announce()

	peer, ok := svcB.Peer("node-a")
	require.True(t, ok)
	require.Equal(t, "node-a", peer.Hostname)
}
