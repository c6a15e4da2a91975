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

package pb

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/meshbridge/codec"
	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

func newTestBridge(t *testing.T, slow bool) (*Bridge, *spool.Spool) {
	t.Helper()
	dir := t.TempDir()

	dictPath := filepath.Join(dir, "cot.dict")
	require.NoError(t, os.WriteFile(dictPath, bytes.Repeat([]byte("a-f-G-U-C"), 16), 0o644))
	cdc, err := codec.New(dictPath, 0, 4096)
	require.NoError(t, err)

	sp, err := spool.New(filepath.Join(dir, "spool"))
	require.NoError(t, err)

	statePath := filepath.Join(dir, "node_status.json")
	mode := statefile.ModeFast
	if slow {
		mode = statefile.ModeSlow
	}
	require.NoError(t, statefile.WriteAtomic(statePath, &statefile.NodeStatus{
		Nodes: map[string]statefile.Node{"aa:bb:cc:dd:ee:01": {Mode: mode}},
	}))
	reader := statefile.NewReader[statefile.NodeStatus](statePath)

	cfg := config.PB{DedupCapacity: 100, EgressInterval: 10 * time.Millisecond}
	return NewBridge(cfg, cdc, reader, sp, stats.NewJSONStats()), sp
}

func TestHandleIngressSpoolsWhenAPeerIsSlow(t *testing.T) {
	b, sp := newTestBridge(t, true)

	b.handleIngress([]byte("<event uid=\"ATAK-1\"/>"))

	files, err := sp.List(spool.Pending)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestHandleIngressSkipsWhenAllFast(t *testing.T) {
	b, sp := newTestBridge(t, false)

	b.handleIngress([]byte("<event uid=\"ATAK-1\"/>"))

	files, err := sp.List(spool.Pending)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestHandleIngressDropsDuplicate(t *testing.T) {
	b, sp := newTestBridge(t, true)

	b.handleIngress([]byte("<event uid=\"ATAK-1\"/>"))
	b.handleIngress([]byte("<event uid=\"ATAK-1\"/>"))

	files, err := sp.List(spool.Pending)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

type captureConn struct {
	written [][]byte
}

func (c *captureConn) Read([]byte) (int, error) { return 0, nil }
func (c *captureConn) Write(p []byte) (int, error) {
	c.written = append(c.written, append([]byte(nil), p...))
	return len(p), nil
}
func (c *captureConn) Close() error                     { return nil }
func (c *captureConn) LocalAddr() net.Addr              { return nilAddr{} }
func (c *captureConn) RemoteAddr() net.Addr             { return nilAddr{} }
func (c *captureConn) SetDeadline(time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(time.Time) error { return nil }

type nilAddr struct{}

func (nilAddr) Network() string { return "udp" }
func (nilAddr) String() string  { return "" }

func TestEgressPassReplaysAndDedupsIncoming(t *testing.T) {
	b, sp := newTestBridge(t, true)

	payload := []byte("<event uid=\"ATAK-2\"/>")
	compressed, err := b.codec.Compress(payload)
	require.NoError(t, err)

	_, err = sp.Write(spool.Incoming, compressed)
	require.NoError(t, err)

	conn := &captureConn{}
	b.egressPass([]net.Conn{conn})

	require.Len(t, conn.written, 1)
	require.Equal(t, payload, conn.written[0])

	incoming, err := sp.List(spool.Incoming)
	require.NoError(t, err)
	require.Empty(t, incoming)
}

func TestPurgeQuiescentClearsPendingAndSentBufferWhenAllFast(t *testing.T) {
	b, sp := newTestBridge(t, false)

	_, err := sp.Write(spool.Pending, []byte("stale"))
	require.NoError(t, err)
	_, err = sp.Write(spool.SentBuffer, []byte("owned-by-ros"))
	require.NoError(t, err)

	b.purgeQuiescent()

	pending, err := sp.List(spool.Pending)
	require.NoError(t, err)
	require.Empty(t, pending)

	sentBuffer, err := sp.List(spool.SentBuffer)
	require.NoError(t, err)
	require.Empty(t, sentBuffer)
}
