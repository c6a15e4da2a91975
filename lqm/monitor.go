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

// Package lqm classifies mesh peers as FAST or SLOW from routing daemon
// telemetry, applying hysteresis so a single noisy sample can't flap a
// peer's classification back and forth.
package lqm

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/internal/ratelog"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
	"github.com/fieldmesh/meshbridge/telemetry"
)

// peerState is the hysteresis bookkeeping kept per MAC between samples.
type peerState struct {
	mode         statefile.Mode
	failureCount int
	goodCount    int
}

// Monitor samples a telemetry.Source at SampleInterval and maintains a
// FAST/SLOW classification per peer, written out as node_status on every
// tick.
type Monitor struct {
	cfg     config.LQM
	source  telemetry.Source
	hostmap *telemetry.Hostmap
	stats   *stats.JSONStats
	gate    *ratelog.Gate

	peers map[string]*peerState
}

// NewMonitor returns a Monitor reading from source and resolving MACs
// through hostmap.
func NewMonitor(cfg config.LQM, source telemetry.Source, hostmap *telemetry.Hostmap, st *stats.JSONStats) *Monitor {
	return &Monitor{
		cfg:     cfg,
		source:  source,
		hostmap: hostmap,
		stats:   st,
		gate:    ratelog.NewGate(time.Minute),
		peers:   make(map[string]*peerState),
	}
}

// Run samples at cfg.SampleInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		m.tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick() {
	samples, err := m.source.Poll()
	if err != nil {
		m.gate.Errorf("poll", "lqm: telemetry poll failed: %v", err)
		m.stats.Inc("lqm.poll_error")
		samples = nil
	}

	byMAC := make(map[string]telemetry.Sample, len(samples))
	for _, s := range samples {
		byMAC[s.MAC] = s
	}

	// The static hostmap, not the live poll, is the authoritative node
	// set: a peer absent from samples (aged out of the routing table, or
	// the whole poll failed) still needs an entry so it keeps accruing
	// failures toward SLOW instead of vanishing from node_status.
	status := &statefile.NodeStatus{
		Timestamp: time.Now().Unix(),
		Nodes:     make(map[string]statefile.Node, len(m.hostmap.Hostname)),
	}

	for mac := range m.hostmap.Hostname {
		s, ok := byMAC[mac]
		if !ok {
			s = telemetry.Sample{MAC: mac, SecondsSinceLastOGM: math.Inf(1)}
		}

		state, ok := m.peers[mac]
		if !ok {
			state = &peerState{mode: statefile.ModeFast}
			m.peers[mac] = state
		}
		m.classify(s, state)

		// encoding/json rejects +Inf, so a node with no sample is published
		// with the largest finite value instead.
		lastSeen := s.SecondsSinceLastOGM
		if math.IsInf(lastSeen, 1) {
			lastSeen = math.MaxFloat64
		}

		status.Nodes[mac] = statefile.Node{
			Hostname:     m.hostmap.Hostname[mac],
			IP:           m.hostmap.IP[mac],
			LastSeen:     lastSeen,
			Mode:         state.mode,
			FailureCount: state.failureCount,
			GoodCount:    state.goodCount,
			Throughput:   s.Throughput,
			NextHop:      s.NextHop,
		}
	}

	if err := statefile.WriteAtomic(m.cfg.StatePath, status); err != nil {
		m.gate.Errorf("write", "lqm: failed to write node_status: %v", err)
		m.stats.Inc("lqm.write_error")
		return
	}
	m.stats.SetGauge("lqm.slow_peers", int64(len(status.SlowHostnames())))
}

// classify applies hysteresis: FailureCount consecutive bad samples flip
// FAST->SLOW, RecoveryCount consecutive good samples flip SLOW->FAST. A good
// sample always resets the opposite counter so a single outlier can't
// accumulate across unrelated streaks.
func (m *Monitor) classify(s telemetry.Sample, state *peerState) {
	bad := s.SecondsSinceLastOGM >= m.cfg.FailureThreshold.Seconds()

	if bad {
		state.failureCount++
		state.goodCount = 0
		if state.mode == statefile.ModeFast && state.failureCount >= m.cfg.FailureCount {
			state.mode = statefile.ModeSlow
			log.Warnf("lqm: %s classified SLOW after %d consecutive bad samples", s.MAC, state.failureCount)
		}
		return
	}

	state.goodCount++
	state.failureCount = 0
	if state.mode == statefile.ModeSlow && state.goodCount >= m.cfg.RecoveryCount {
		state.mode = statefile.ModeFast
		log.Infof("lqm: %s recovered to FAST after %d consecutive good samples", s.MAC, state.goodCount)
	}
}
