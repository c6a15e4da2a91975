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

// Package pb bridges the local multicast tactical-data network to the
// overlay spool and back: on ingress it compresses and dedups local
// multicast traffic destined for SLOW peers into spool.Pending, and on
// egress it decompresses and dedups overlay-delivered payloads out of
// spool.Incoming back onto the local multicast group.
package pb

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/fieldmesh/meshbridge/codec"
	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/dedup"
	"github.com/fieldmesh/meshbridge/internal/ratelog"
	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

// Bridge holds the shared state between the ingress and egress halves: one
// dedup ring covers both directions so a payload bounced back by the overlay
// is never re-forwarded onto the multicast group it came from.
type Bridge struct {
	cfg        config.PB
	codec      *codec.Codec
	dedup      *dedup.RecentFingerprintRing
	nodeState  *statefile.Reader[statefile.NodeStatus]
	sp         *spool.Spool
	st         *stats.JSONStats
	gate       *ratelog.Gate
	localAddrs map[string]bool // locally-attached IPs, for ingress source classification
}

// NewBridge constructs a Bridge. nodeState is the LQM's node_status reader,
// consulted to decide whether any peer currently needs the overlay path.
func NewBridge(cfg config.PB, codec *codec.Codec, nodeState *statefile.Reader[statefile.NodeStatus], sp *spool.Spool, st *stats.JSONStats) *Bridge {
	localAddrs, err := loadLocalAddrs(cfg)
	if err != nil {
		log.Warnf("pb: failed to determine local addresses, upstream datagrams will be rejected until fixed: %v", err)
		localAddrs = make(map[string]bool)
	}
	return &Bridge{
		cfg:        cfg,
		codec:      codec,
		dedup:      dedup.New(cfg.DedupCapacity),
		nodeState:  nodeState,
		sp:         sp,
		st:         st,
		gate:       ratelog.NewGate(time.Minute),
		localAddrs: localAddrs,
	}
}

// loadLocalAddrs returns the set of IPs a LOCAL-sourced datagram may arrive
// from. cfg.LocalAddrs, when set, is authoritative; otherwise it's derived
// from every address assigned to the host.
func loadLocalAddrs(cfg config.PB) (map[string]bool, error) {
	set := make(map[string]bool, len(cfg.LocalAddrs))
	for _, a := range cfg.LocalAddrs {
		set[a] = true
	}
	if len(set) > 0 {
		return set, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate local addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		set[ipNet.IP.String()] = true
	}
	return set, nil
}

// isLocalSource classifies an ingress datagram's source address as LOCAL
// (the tactical app on this bridge) vs REMOTE (anything else reaching the
// upstream port, which must be rejected to avoid loops and spoofing).
func (b *Bridge) isLocalSource(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	return b.localAddrs[udpAddr.IP.String()]
}

func (b *Bridge) anySlowPeer() bool {
	status, err := b.nodeState.Read()
	if err != nil {
		b.gate.Errorf("node_status", "pb: node_status unavailable: %v", err)
		return false
	}
	return status.AnySlow()
}

// RunIngress listens on every configured channel's upstream group:port and
// spools a compressed, deduplicated copy of each LOCAL-sourced datagram for
// the overlay path, but only while at least one peer is SLOW -- when every
// peer is reachable over the WiFi mesh, there's nothing for the overlay
// radio to carry.
func (b *Bridge) RunIngress(ctx context.Context) error {
	if len(b.cfg.Channels) == 0 {
		return fmt.Errorf("pb: ingress: no multicast channels configured")
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, ch := range b.cfg.Channels {
		ch := ch
		eg.Go(func() error { return b.runIngressChannel(ctx, ch) })
	}
	return eg.Wait()
}

func (b *Bridge) runIngressChannel(ctx context.Context, ch config.MulticastChannel) error {
	conn, err := b.joinMulticast(ch.Group, ch.UpstreamPort)
	if err != nil {
		return fmt.Errorf("pb: ingress %s:%d: %w", ch.Group, ch.UpstreamPort, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.gate.Errorf("ingress_read:"+ch.Group, "pb: ingress read on %s:%d failed: %v", ch.Group, ch.UpstreamPort, err)
			continue
		}
		if !b.isLocalSource(src) {
			b.st.Inc("pb.ingress.remote_source_rejected")
			continue
		}
		b.handleIngress(append([]byte(nil), buf[:n]...))
	}
}

func (b *Bridge) handleIngress(payload []byte) {
	b.st.Inc("pb.ingress.received")

	if !b.anySlowPeer() {
		b.st.Inc("pb.ingress.skipped_all_fast")
		return
	}

	fp := dedup.Fingerprint(payload)
	if b.dedup.Observe(fp) == dedup.WasSeen {
		b.st.Inc("pb.ingress.duplicate")
		return
	}

	compressed, err := b.codec.Compress(payload)
	if err != nil {
		b.gate.Warnf("compress", "pb: dropping oversized/uncompressible payload: %v", err)
		b.st.Inc("pb.ingress.compress_error")
		return
	}

	if _, err := b.sp.Write(spool.Pending, compressed); err != nil {
		log.Errorf("pb: failed to spool ingress payload: %v", err)
		b.st.Inc("pb.ingress.spool_error")
		return
	}
	b.st.Inc("pb.ingress.spooled")
}

// RunEgress polls spool.Incoming for payloads the overlay has delivered,
// decompresses and dedups them, and replays them onto every configured
// channel's downstream group:port on the local bridge.
func (b *Bridge) RunEgress(ctx context.Context) error {
	if len(b.cfg.Channels) == 0 {
		return fmt.Errorf("pb: egress: no multicast channels configured")
	}
	conns := make([]net.Conn, 0, len(b.cfg.Channels))
	for _, ch := range b.cfg.Channels {
		conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", ch.Group, ch.DownstreamPort))
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return fmt.Errorf("pb: egress: dial %s:%d: %w", ch.Group, ch.DownstreamPort, err)
		}
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	interval := b.cfg.EgressInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b.egressPass(conns)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bridge) egressPass(conns []net.Conn) {
	if !b.anySlowPeer() {
		b.purgeQuiescent()
	}

	files, err := b.sp.List(spool.Incoming)
	if err != nil {
		log.Errorf("pb: failed to list incoming spool: %v", err)
		return
	}
	for _, f := range files {
		b.processIncoming(conns, f)
	}
}

// purgeQuiescent empties pending, sent_buffer and incoming once every peer
// is back on the FAST mesh path: there's no overlay work left to carry them,
// and the multicast source will keep re-announcing state anyway. Deliveries
// the Reliable Overlay Sender still tracks for a purged sent_buffer file are
// dropped by it when the file can no longer be read.
func (b *Bridge) purgeQuiescent() {
	empty := true
	for _, stage := range []spool.Stage{spool.Pending, spool.SentBuffer, spool.Incoming} {
		if files, err := b.sp.List(stage); err == nil && len(files) > 0 {
			empty = false
		}
	}
	if empty {
		return
	}
	if err := b.sp.PurgeAll(); err != nil {
		log.Errorf("pb: failed to purge quiescent spool: %v", err)
	}
	b.st.Inc("pb.quiescent_purge")
}

func (b *Bridge) processIncoming(conns []net.Conn, f spool.File) {
	scratch, err := b.sp.ClaimForProcessing(f)
	if err != nil {
		// lost the race with another process; not an error worth logging
		return
	}

	payload, err := decompressClaimed(b, scratch)
	if err != nil {
		log.Errorf("pb: failed to decompress %s: %v", f.Name, err)
		b.st.Inc("pb.egress.decompress_error")
		_ = b.sp.Remove(scratch)
		return
	}

	fp := dedup.Fingerprint(payload)
	if b.dedup.Observe(fp) == dedup.WasSeen {
		b.st.Inc("pb.egress.duplicate")
		_ = b.sp.Remove(scratch)
		return
	}

	for _, conn := range conns {
		if _, err := conn.Write(payload); err != nil {
			log.Errorf("pb: failed to replay payload onto %s: %v", conn.RemoteAddr(), err)
			b.st.Inc("pb.egress.write_error")
			continue
		}
		b.st.Inc("pb.egress.replayed")
	}
	_ = b.sp.Remove(scratch)
}

func (b *Bridge) joinMulticast(group string, port int) (*ipv4.PacketConn, error) {
	ip := net.ParseIP(group)
	if ip == nil {
		return nil, fmt.Errorf("parse multicast group %q", group)
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)

	iface, err := net.InterfaceByName(b.cfg.Iface)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("interface %s: %w", b.cfg.Iface, err)
	}
	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: ip}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join group: %w", err)
	}
	if err := pconn.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("disable loopback: %w", err)
	}
	return pconn, nil
}
