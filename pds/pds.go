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

// Package pds announces this node's identity over the overlay and tracks
// which peers have announced back, publishing the live set as the
// peer_discovery control feed the Reliable Overlay Sender reads.
package pds

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/overlay"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

// Peer is what we know about a peer we've announced-from.
type Peer struct {
	Hostname        string
	DestinationHash overlay.Fingerprint
	LastSeen        time.Time
}

type peerMap struct {
	mu sync.Mutex
	m  map[string]*Peer // keyed by hostname
}

func (p *peerMap) upsert(hostname string, dh overlay.Fingerprint, seen time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peer, ok := p.m[hostname]; ok {
		peer.DestinationHash = dh
		peer.LastSeen = seen
		return
	}
	p.m[hostname] = &Peer{Hostname: hostname, DestinationHash: dh, LastSeen: seen}
}

func (p *peerMap) snapshot() map[string]*Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Peer, len(p.m))
	for k, v := range p.m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (p *peerMap) evictStale(timeout time.Duration, now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []string
	for hostname, peer := range p.m {
		if now.Sub(peer.LastSeen) > timeout {
			delete(p.m, hostname)
			removed = append(removed, hostname)
		}
	}
	return removed
}

func (p *peerMap) get(hostname string) (*Peer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.m[hostname]
	return peer, ok
}

// Service owns this node's overlay identity and inbound destination,
// periodically announces it, and tracks peers that announce back.
type Service struct {
	cfg       config.PDS
	hostname  string
	transport overlay.Transport
	dest      overlay.Destination
	st        *stats.JSONStats

	peers      peerMap
	deregister func()
}

// NewService creates a Service with a fresh inbound destination registered
// on transport under {AppName, Aspect}, and immediately starts listening for
// peer announces. Call Run to drive periodic self-announcement and peer
// timeout maintenance, and Close once the Service is no longer needed.
func NewService(cfg config.PDS, hostname string, transport overlay.Transport, st *stats.JSONStats) (*Service, error) {
	dest, err := transport.NewDestination(transport.LocalIdentity(), overlay.DirectionIn, overlay.DestinationTypeSingle, cfg.AppName, cfg.Aspect)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		hostname:  hostname,
		transport: transport,
		dest:      dest,
		st:        st,
		peers:     peerMap{m: make(map[string]*Peer)},
	}
	s.deregister = transport.RegisterAnnounceHandler(cfg.Aspect, s.onAnnounce)

	// Clear any peer state a prior run left behind: a stale peer_discovery
	// naming a fingerprint that's no longer valid must not be readable by
	// ROS/PB until this run rebuilds it from fresh announces.
	s.writeState()

	return s, nil
}

// Close deregisters this Service's announce handler.
func (s *Service) Close() {
	if s.deregister != nil {
		s.deregister()
	}
}

// Destination returns this node's inbound destination, for ROS to register
// its incoming-packet callback on.
func (s *Service) Destination() overlay.Destination {
	return s.dest
}

// Transport returns the overlay.Transport this Service was built on, for
// components (like ROS) that need to drive sends against the same handle.
func (s *Service) Transport() overlay.Transport {
	return s.transport
}

// Announce triggers an out-of-cycle self-announcement.
func (s *Service) Announce() {
	s.announce()
}

// Peers returns a point-in-time copy of the tracked peer set.
func (s *Service) Peers() map[string]*Peer {
	return s.peers.snapshot()
}

// Peer looks up a single peer by hostname.
func (s *Service) Peer(hostname string) (*Peer, bool) {
	return s.peers.get(hostname)
}

// Run announces on AnnounceInterval, evicts stale peers, and persists
// peer_discovery until ctx is cancelled. The announce handler itself is
// already live from NewService; Run only drives the periodic side.
func (s *Service) Run(ctx context.Context) error {
	// bootstrap: announce responsively with uniform jitter in [0.5, 1.5]s
	// so a cold mesh doesn't have every node announce in lockstep.
	jitter := time.Duration(500+rand.Intn(1000)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
	}
	s.announce()

	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.announce()
			s.maintain()
		}
	}
}

func (s *Service) announce() {
	appData := []byte(s.hostname)
	if err := s.transport.Announce(s.dest, appData); err != nil {
		log.Errorf("pds: announce failed: %v", err)
		s.st.Inc("pds.announce_error")
		return
	}
	s.st.Inc("pds.announce_sent")
}

func (s *Service) onAnnounce(dest overlay.Fingerprint, identity overlay.Identity, appData []byte) {
	if dest.Equal(s.transport.LocalIdentity().Fingerprint()) {
		return
	}
	hostname := string(appData)
	if hostname == "" {
		return
	}
	s.peers.upsert(hostname, dest, time.Now())
	s.st.Inc("pds.announce_received")
	log.Debugf("pds: peer %s announced, destination_hash=%s", hostname, dest.String())
	s.writeState()
}

func (s *Service) maintain() {
	removed := s.peers.evictStale(s.cfg.PeerTimeout, time.Now())
	for _, hostname := range removed {
		log.Infof("pds: peer %s timed out after %s of silence", hostname, s.cfg.PeerTimeout)
		s.st.Inc("pds.peer_timeout")
	}
	s.writeState()
}

func (s *Service) writeState() {
	snapshot := s.peers.snapshot()
	out := &statefile.PeerDiscovery{
		Timestamp: time.Now().Unix(),
		Peers:     make(map[string]statefile.PeerRecord, len(snapshot)),
	}
	for hostname, peer := range snapshot {
		out.Peers[hostname] = statefile.PeerRecord{
			DestinationHash: peer.DestinationHash.String(),
			LastSeen:        peer.LastSeen.Unix(),
		}
	}
	if err := statefile.WriteAtomic(s.cfg.StatePath, out); err != nil {
		log.Errorf("pds: failed to write peer_discovery: %v", err)
		s.st.Inc("pds.write_error")
	}
}
