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

// Package ros delivers spooled payloads to SLOW peers over the overlay,
// retrying with exponential backoff until delivery is confirmed or the
// packet's attempts are exhausted.
package ros

import (
	"context"
	"sync"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/internal/ratelog"
	"github.com/fieldmesh/meshbridge/overlay"
	"github.com/fieldmesh/meshbridge/pds"
	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

// delivery is the in-memory bookkeeping for one (file, peer) delivery.
// attempts counts retries only -- it excludes the initial send, so the
// RetryMaxAttempts cap in retryPass budgets exactly that many retries on top
// of the first transmission.
type delivery struct {
	hostname    string
	fileName    string // for logging only
	sent        bool   // the initial send has been attempted
	attempts    int
	nextRetry   time.Time
	firstSentAt time.Time
	delivered   bool
	dropped     bool
}

func (d *delivery) attempted() bool {
	return d.sent || d.dropped || d.delivered
}

func (d *delivery) terminal() bool {
	return d.delivered || d.dropped
}

// fileDelivery tracks every target one spool file has been, or still needs
// to be, sent to. order is the sorted hostname set frozen at creation --
// the target set is fixed once first-send begins, per spec.
type fileDelivery struct {
	file    spool.File
	order   []string
	targets map[string]*delivery
}

func newFileDelivery(file spool.File, targets []string) *fileDelivery {
	fd := &fileDelivery{
		file:    file,
		order:   append([]string(nil), targets...),
		targets: make(map[string]*delivery, len(targets)),
	}
	for _, hostname := range targets {
		fd.targets[hostname] = &delivery{hostname: hostname, fileName: file.Name}
	}
	return fd
}

// allAttempted reports whether every target has had its initial send
// attempted (successfully or not). Once true, the file has left pending/
// and moves to sent_buffer/.
func (fd *fileDelivery) allAttempted() bool {
	for _, hostname := range fd.order {
		if !fd.targets[hostname].attempted() {
			return false
		}
	}
	return true
}

// allTerminal reports whether every target is delivered or has exhausted
// its retries -- the condition under which the file is removed entirely.
func (fd *fileDelivery) allTerminal() bool {
	for _, d := range fd.targets {
		if !d.terminal() {
			return false
		}
	}
	return true
}

// Sender is the Reliable Overlay Sender: it reads spool.Pending, hands
// payloads to SLOW peers, and retries spool.SentBuffer entries until they're
// confirmed delivered or exhausted.
type Sender struct {
	cfg       config.ROS
	transport overlay.Transport
	pdsSvc    *pds.Service
	nodeState *statefile.Reader[statefile.NodeStatus]
	sp        *spool.Spool
	st        *stats.JSONStats
	gate      *ratelog.Gate
	backoff   backoff

	mu         sync.Mutex
	inFlight   map[string]*fileDelivery // keyed by spool file name
	rtt        map[string]*welford.Stats
	lastSend   time.Time
	lastRecall map[string]time.Time
}

// NewSender builds a Sender. nodeState is the LQM's node_status reader,
// consulted each tick to decide which peers are currently SLOW.
func NewSender(cfg config.ROS, transport overlay.Transport, pdsSvc *pds.Service, nodeState *statefile.Reader[statefile.NodeStatus], sp *spool.Spool, st *stats.JSONStats) *Sender {
	return &Sender{
		cfg:        cfg,
		transport:  transport,
		pdsSvc:     pdsSvc,
		nodeState:  nodeState,
		sp:         sp,
		st:         st,
		gate:       ratelog.NewGate(time.Minute),
		backoff:    newBackoff(cfg),
		inFlight:   make(map[string]*fileDelivery),
		rtt:        make(map[string]*welford.Stats),
		lastRecall: make(map[string]time.Time),
	}
}

// IncomingPacketCallback is registered on the PDS inbound destination and
// spools every received payload into spool.Incoming for the Packet Bridge's
// egress side to pick up.
func (s *Sender) IncomingPacketCallback(payload []byte) {
	if _, err := s.sp.Write(spool.Incoming, payload); err != nil {
		log.Errorf("ros: failed to spool incoming payload: %v", err)
		s.st.Inc("ros.incoming_spool_error")
		return
	}
	s.st.Inc("ros.incoming_received")
}

// Run executes the 1Hz main loop until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		s.tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// slowTargets returns the sorted, deterministic set of hostnames that are
// currently SLOW and have a known overlay peer.
func (s *Sender) slowTargets() []string {
	status, err := s.nodeState.Read()
	if err != nil {
		s.gate.Errorf("node_status", "ros: node_status unavailable: %v", err)
		return nil
	}
	var targets []string
	for _, hostname := range status.SlowHostnames() {
		if _, ok := s.pdsSvc.Peer(hostname); ok {
			targets = append(targets, hostname)
		}
	}
	slices.Sort(targets)
	return targets
}

func (s *Sender) paceAllows(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSend) < s.cfg.SendSpacingDelay {
		return false
	}
	s.lastSend = now
	return true
}

func (s *Sender) tick() {
	now := time.Now()
	targets := s.slowTargets()
	targetSet := make(map[string]bool, len(targets))
	for _, hostname := range targets {
		targetSet[hostname] = true
	}

	s.retryPass(targetSet, now)
	if s.paceAllows(now) {
		s.firstSendPass(targets, now)
	}
	s.receiptPromptPass(targets, now)
	s.cleanupPass()
}

// firstSendPass advances the oldest pending file's initial-send round by one
// target per call: the target set is determined once when a file starts its
// round, then every target in it is sent to, in sorted order, one per tick
// so sends to different peers for the same file stay paced by
// SendSpacingDelay. Only after every target has been attempted once does the
// file move from pending/ to sent_buffer/.
func (s *Sender) firstSendPass(targets []string, now time.Time) {
	if len(targets) == 0 {
		return
	}

	if fd := s.inProgressFirstSend(); fd != nil {
		s.advanceFirstSend(fd, now)
		return
	}

	files, err := s.sp.List(spool.Pending)
	if err != nil {
		log.Errorf("ros: failed to list pending spool: %v", err)
		return
	}

	for _, f := range files {
		s.mu.Lock()
		_, tracked := s.inFlight[f.Name]
		s.mu.Unlock()
		if tracked {
			continue
		}

		fd := newFileDelivery(f, targets)
		s.mu.Lock()
		s.inFlight[f.Name] = fd
		s.mu.Unlock()

		s.advanceFirstSend(fd, now)
		return
	}
}

// inProgressFirstSend returns the one file, if any, still partway through
// its initial-send round. At most one file is ever mid-round at a time:
// firstSendPass only starts a new file once the current one finishes.
func (s *Sender) inProgressFirstSend() *fileDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fd := range s.inFlight {
		if !fd.allAttempted() {
			return fd
		}
	}
	return nil
}

func (s *Sender) advanceFirstSend(fd *fileDelivery, now time.Time) {
	for _, hostname := range fd.order {
		d := fd.targets[hostname]
		if d.attempted() {
			continue
		}
		s.send(fd, d, now)
		break
	}

	if !fd.allAttempted() {
		return
	}

	moved, err := s.sp.MoveTo(fd.file, spool.SentBuffer)
	if err != nil {
		log.Errorf("ros: failed to move %s to sent_buffer: %v", fd.file.Name, err)
		return
	}
	s.mu.Lock()
	fd.file = moved
	s.mu.Unlock()
}

type retryItem struct {
	fd *fileDelivery
	d  *delivery
}

func (s *Sender) retryPass(targetSet map[string]bool, now time.Time) {
	s.mu.Lock()
	var due []retryItem
	for _, fd := range s.inFlight {
		if !fd.allAttempted() {
			continue // still mid its first-send round, not yet eligible for retry
		}
		for _, hostname := range fd.order {
			d := fd.targets[hostname]
			if !d.sent || d.terminal() {
				continue
			}
			if !targetSet[hostname] {
				continue // no longer SLOW or no longer a known peer
			}
			if now.After(d.nextRetry) {
				due = append(due, retryItem{fd: fd, d: d})
			}
		}
	}
	s.mu.Unlock()

	for _, item := range due {
		d := item.d
		if d.attempts >= s.cfg.RetryMaxAttempts {
			s.drop(d, "max attempts exhausted")
			continue
		}
		if !s.paceAllows(now) {
			break
		}
		s.send(item.fd, d, now)
	}
}

func (s *Sender) send(fd *fileDelivery, d *delivery, now time.Time) {
	peer, ok := s.pdsSvc.Peer(d.hostname)
	if !ok {
		s.drop(d, "peer no longer known")
		return
	}
	identity, ok := s.transport.RecallIdentity(peer.DestinationHash)
	if !ok {
		s.gate.Warnf("recall:"+d.hostname, "ros: could not recall identity for %s", d.hostname)
		return
	}
	dest, err := s.transport.NewDestination(identity, overlay.DirectionOut, overlay.DestinationTypeSingle, "meshbridge", "pds")
	if err != nil {
		log.Errorf("ros: failed to build destination for %s: %v", d.hostname, err)
		return
	}

	payload, err := readSpoolFile(fd.file)
	if err != nil {
		log.Errorf("ros: failed to read spool file %s: %v", fd.file.Name, err)
		s.drop(d, "unreadable spool file")
		return
	}

	receipt, err := s.transport.Send(dest, payload)
	if err != nil {
		log.Errorf("ros: send to %s failed: %v", d.hostname, err)
		s.st.Inc("ros.send_error")
		return
	}

	sentAt := now
	s.mu.Lock()
	firstSend := !d.sent
	d.sent = true
	if firstSend {
		d.firstSentAt = now
	} else {
		d.attempts++
	}
	d.nextRetry = now.Add(s.backoff.delay(d.attempts + 1))
	s.mu.Unlock()

	receipt.SetDeliveryCallback(func(rtt time.Duration) {
		s.onDelivered(d, sentAt, rtt)
	})
	receipt.SetTimeoutCallback(func() {
		s.onTimeout(d)
	})

	s.st.Inc("ros.send_attempt")
}

func (s *Sender) onDelivered(d *delivery, sentAt time.Time, rtt time.Duration) {
	s.mu.Lock()
	d.delivered = true
	stat, ok := s.rtt[d.hostname]
	if !ok {
		stat = welford.New()
		s.rtt[d.hostname] = stat
	}
	stat.Add(rtt.Seconds())
	s.mu.Unlock()

	log.Debugf("ros: delivery confirmed for %s after %d retry(s), rtt=%s", d.hostname, d.attempts, rtt)
	s.st.Inc("ros.delivered")
}

func (s *Sender) onTimeout(d *delivery) {
	s.mu.Lock()
	alreadyDelivered := d.delivered
	s.mu.Unlock()
	if alreadyDelivered {
		return
	}
	s.st.Inc("ros.timeout")
}

func (s *Sender) drop(d *delivery, reason string) {
	s.mu.Lock()
	d.dropped = true
	s.mu.Unlock()
	log.Warnf("ros: giving up on %s for %s: %s", d.fileName, d.hostname, reason)
	s.st.Inc("ros.dropped")
}

// receiptPromptPass pumps the overlay event loop for each target at most
// once per 5 seconds, per the RecallIdentity contract.
func (s *Sender) receiptPromptPass(targets []string, now time.Time) {
	for _, hostname := range targets {
		s.mu.Lock()
		last, ok := s.lastRecall[hostname]
		if ok && now.Sub(last) < 5*time.Second {
			s.mu.Unlock()
			continue
		}
		s.lastRecall[hostname] = now
		s.mu.Unlock()

		peer, ok := s.pdsSvc.Peer(hostname)
		if !ok {
			continue
		}
		s.transport.RecallIdentity(peer.DestinationHash)
	}
}

// cleanupPass removes a file once every target in its record is delivered
// or has exhausted its retries. Files still mid first-send round are left
// alone -- they haven't reached sent_buffer/ yet.
func (s *Sender) cleanupPass() {
	s.mu.Lock()
	var done []*fileDelivery
	for name, fd := range s.inFlight {
		if !fd.allAttempted() || !fd.allTerminal() {
			continue
		}
		done = append(done, fd)
		delete(s.inFlight, name)
	}
	inFlightCount := len(s.inFlight)
	s.mu.Unlock()

	for _, fd := range done {
		if err := s.sp.Remove(fd.file.Path); err != nil {
			log.Errorf("ros: failed to remove spool file %s: %v", fd.file.Name, err)
		}
	}
	s.st.SetGauge("ros.in_flight", int64(inFlightCount))
}
