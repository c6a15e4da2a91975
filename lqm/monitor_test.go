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

package lqm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
	"github.com/fieldmesh/meshbridge/telemetry"
)

type fakeSource struct {
	samples []telemetry.Sample
	err     error
}

func (f *fakeSource) Poll() ([]telemetry.Sample, error) {
	return f.samples, f.err
}

func newTestMonitor(t *testing.T, src *fakeSource) (*Monitor, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "node_status.json")
	cfg := config.LQM{
		SampleInterval:   time.Second,
		FailureThreshold: 3 * time.Second,
		FailureCount:     3,
		RecoveryCount:    10,
		StatePath:        statePath,
	}
	hm := &telemetry.Hostmap{
		Hostname: map[string]string{"aa:bb:cc:dd:ee:01": "node-a"},
		IP:       map[string]string{"aa:bb:cc:dd:ee:01": "10.50.0.1"},
	}
	return NewMonitor(cfg, src, hm, stats.NewJSONStats()), statePath
}

func TestClassifyStaysFastBelowFailureCount(t *testing.T) {
	src := &fakeSource{}
	m, path := newTestMonitor(t, src)

	for i := 0; i < 2; i++ {
		src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 5.0}}
		m.tick()
	}

	st, err := statefile.ReadFresh[statefile.NodeStatus](path)
	require.NoError(t, err)
	require.Equal(t, statefile.ModeFast, st.Nodes["aa:bb:cc:dd:ee:01"].Mode)
}

func TestClassifyFlipsToSlowAtFailureCount(t *testing.T) {
	src := &fakeSource{}
	m, path := newTestMonitor(t, src)

	for i := 0; i < 3; i++ {
		src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 5.0}}
		m.tick()
	}

	st, err := statefile.ReadFresh[statefile.NodeStatus](path)
	require.NoError(t, err)
	require.Equal(t, statefile.ModeSlow, st.Nodes["aa:bb:cc:dd:ee:01"].Mode)
	require.True(t, st.AnySlow())
}

func TestClassifyRecoversAfterRecoveryCount(t *testing.T) {
	src := &fakeSource{}
	m, path := newTestMonitor(t, src)

	for i := 0; i < 3; i++ {
		src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 5.0}}
		m.tick()
	}
	for i := 0; i < 10; i++ {
		src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 0.2}}
		m.tick()
	}

	st, err := statefile.ReadFresh[statefile.NodeStatus](path)
	require.NoError(t, err)
	require.Equal(t, statefile.ModeFast, st.Nodes["aa:bb:cc:dd:ee:01"].Mode)
}

func TestClassifySingleGoodSampleResetsFailureStreak(t *testing.T) {
	src := &fakeSource{}
	m, path := newTestMonitor(t, src)

	src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 5.0}}
	m.tick()
	m.tick()
	src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 0.2}}
	m.tick()
	src.samples = []telemetry.Sample{{MAC: "aa:bb:cc:dd:ee:01", SecondsSinceLastOGM: 5.0}}
	m.tick()
	m.tick()

	st, err := statefile.ReadFresh[statefile.NodeStatus](path)
	require.NoError(t, err)
	// failure streak was reset by the single good sample, so two more bad
	// samples (not three) aren't enough to flip to SLOW
	require.Equal(t, statefile.ModeFast, st.Nodes["aa:bb:cc:dd:ee:01"].Mode)
}
