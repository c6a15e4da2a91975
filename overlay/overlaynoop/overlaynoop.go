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

// Package overlaynoop is an in-process fake of overlay.Transport, used for
// unit tests and as a loopback development mode when no real overlay radio is
// attached. It is the overlay.Transport analogue of the teacher's
// responder/announce.NoopAnnounce: "do nothing real, but satisfy the
// interface predictably."
package overlaynoop

import (
	"fmt"
	"sync"
	"time"

	"github.com/fieldmesh/meshbridge/overlay"
)

// Hub is the shared medium that every Node created against it can reach.
// Announces sent by one Node are delivered to every other Node sharing the
// same Hub synchronously, on the sender's goroutine; packets sent with Send
// are delivered on a separate goroutine after Send has returned.
type Hub struct {
	mu        sync.Mutex
	nodes     map[string]*Node // by fingerprint hex
	announceH map[string][]announceReg
	deliverOK bool // whether Send() immediately confirms delivery
}

type announceReg struct {
	aspect string
	fn     overlay.AnnounceHandler
}

// NewHub creates a Hub. When deliverOK is true, every Send() delivers and
// confirms about a millisecond after it returns (useful for ROS happy-path
// tests); when false, Send() succeeds but neither the packet callback nor
// the delivery or timeout callback is ever called.
func NewHub(deliverOK bool) *Hub {
	return &Hub{
		nodes:     map[string]*Node{},
		announceH: map[string][]announceReg{},
		deliverOK: deliverOK,
	}
}

// Identity is a fake overlay identity: just a fingerprint.
type Identity struct {
	fp overlay.Fingerprint
}

// Fingerprint implements overlay.Identity.
func (id Identity) Fingerprint() overlay.Fingerprint { return id.fp }

// Destination is a fake destination, always resolving to an identity's
// fingerprint.
type Destination struct {
	fp overlay.Fingerprint
}

// Fingerprint implements overlay.Destination.
func (d Destination) Fingerprint() overlay.Fingerprint { return d.fp }

// Node is a Hub-backed overlay.Transport implementation for a single
// simulated peer.
type Node struct {
	hub      *Hub
	identity Identity

	mu       sync.Mutex
	packetCB map[string]overlay.PacketHandler // by destination fingerprint hex
}

// NewNode registers a new Node with fingerprint fp on hub.
func NewNode(hub *Hub, fp overlay.Fingerprint) *Node {
	n := &Node{
		hub:      hub,
		identity: Identity{fp: fp},
		packetCB: map[string]overlay.PacketHandler{},
	}
	hub.mu.Lock()
	hub.nodes[fp.String()] = n
	hub.mu.Unlock()
	return n
}

// LocalIdentity implements overlay.Transport.
func (n *Node) LocalIdentity() overlay.Identity { return n.identity }

// NewDestination implements overlay.Transport.
func (n *Node) NewDestination(identity overlay.Identity, _ overlay.Direction, _ overlay.DestinationType, _ string, _ string) (overlay.Destination, error) {
	return Destination{fp: identity.Fingerprint()}, nil
}

// Announce implements overlay.Transport, delivering appData to every announce
// handler registered by every other node on the Hub. The handlers' aspect
// filters are not checked.
func (n *Node) Announce(_ overlay.Destination, appData []byte) error {
	n.hub.mu.Lock()
	handlers := map[*Node][]overlay.AnnounceHandler{}
	for owner, regs := range n.hub.announceH {
		if owner == n.identity.fp.String() {
			continue
		}
		node := n.hub.nodes[owner]
		for _, reg := range regs {
			handlers[node] = append(handlers[node], reg.fn)
		}
	}
	n.hub.mu.Unlock()

	for _, fns := range handlers {
		for _, fn := range fns {
			fn(n.identity.fp, n.identity, appData)
		}
	}
	return nil
}

// RegisterAnnounceHandler implements overlay.Transport.
func (n *Node) RegisterAnnounceHandler(aspectFilter string, handler overlay.AnnounceHandler) func() {
	n.hub.mu.Lock()
	key := n.identity.fp.String()
	n.hub.announceH[key] = append(n.hub.announceH[key], announceReg{aspect: aspectFilter, fn: handler})
	idx := len(n.hub.announceH[key]) - 1
	n.hub.mu.Unlock()

	return func() {
		n.hub.mu.Lock()
		defer n.hub.mu.Unlock()
		regs := n.hub.announceH[key]
		if idx < len(regs) {
			n.hub.announceH[key] = append(regs[:idx], regs[idx+1:]...)
		}
	}
}

// RecallIdentity implements overlay.Transport.
func (n *Node) RecallIdentity(fp overlay.Fingerprint) (overlay.Identity, bool) {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	node, ok := n.hub.nodes[fp.String()]
	if !ok {
		return nil, false
	}
	return node.identity, true
}

// receipt is the fake Receipt returned by Send.
type receipt struct {
	mu        sync.Mutex
	onDeliver overlay.DeliveryCallback
	onTimeout overlay.TimeoutCallback
}

func (r *receipt) SetDeliveryCallback(cb overlay.DeliveryCallback) {
	r.mu.Lock()
	r.onDeliver = cb
	r.mu.Unlock()
}

func (r *receipt) SetTimeoutCallback(cb overlay.TimeoutCallback) {
	r.mu.Lock()
	r.onTimeout = cb
	r.mu.Unlock()
}

// Send implements overlay.Transport. When the hub is configured with
// deliverOK, a goroutine started by Send invokes the peer's packet callback
// and then the delivery callback with a nominal RTT, about a millisecond
// after Send returns.
func (n *Node) Send(dest overlay.Destination, payload []byte) (overlay.Receipt, error) {
	n.hub.mu.Lock()
	target, ok := n.hub.nodes[dest.Fingerprint().String()]
	deliverOK := n.hub.deliverOK
	n.hub.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("overlaynoop: unknown destination %s", dest.Fingerprint())
	}

	r := &receipt{}
	if deliverOK {
		// Deliver asynchronously, after Send has returned the receipt to the
		// caller: real proof-of-delivery always arrives after Send returns,
		// and callers are expected to call SetDeliveryCallback on the
		// receipt before that happens.
		go func() {
			time.Sleep(time.Millisecond)

			target.mu.Lock()
			cb, has := target.packetCB[dest.Fingerprint().String()]
			target.mu.Unlock()
			if has {
				cb(payload)
			}

			r.mu.Lock()
			onDeliver := r.onDeliver
			r.mu.Unlock()
			if onDeliver != nil {
				onDeliver(time.Millisecond)
			}
		}()
	}
	return r, nil
}

// RegisterPacketCallback implements overlay.Transport.
func (n *Node) RegisterPacketCallback(dest overlay.Destination, handler overlay.PacketHandler) {
	n.mu.Lock()
	n.packetCB[dest.Fingerprint().String()] = handler
	n.mu.Unlock()
}
