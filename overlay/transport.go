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

// Package overlay describes the capability set meshbridge requires from the
// cryptographic-overlay radio transport (a Reticulum/LoRa-style library):
// identity, destinations, announce, packet-send-with-receipt and
// packet-receive. The overlay library itself is out of scope; this package
// only pins down the interface the rest of the tree programs against, plus a
// local fake (overlay/overlaynoop) for tests and loopback development.
package overlay

import (
	"encoding/hex"
	"time"
)

// Fingerprint is an opaque destination fingerprint minted by the overlay
// library on announce. It is never derived from a public key; callers must
// treat it as an opaque token and persist exactly the bytes they were given.
type Fingerprint []byte

// String renders the fingerprint the way it is persisted in peer_discovery's
// destination_hash field.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

// Equal reports whether two fingerprints name the same destination.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if len(f) != len(o) {
		return false
	}
	for i := range f {
		if f[i] != o[i] {
			return false
		}
	}
	return true
}

// Direction mirrors the overlay library's IN/OUT destination direction.
type Direction int

// Destination directions.
const (
	DirectionIn Direction = iota
	DirectionOut
)

// DestinationType mirrors the overlay library's destination types. meshbridge
// only ever uses SINGLE (point-to-point, receipt-bearing) destinations.
type DestinationType int

// Destination types.
const (
	DestinationTypeSingle DestinationType = iota
)

// Identity is an overlay identity, either our own or one recalled from a
// remote fingerprint.
type Identity interface {
	// Fingerprint returns the destination fingerprint this identity resolves
	// to for the APP_NAME/ASPECT this transport was configured with.
	Fingerprint() Fingerprint
}

// Destination is a local or remote overlay endpoint.
type Destination interface {
	Fingerprint() Fingerprint
}

// AnnounceHandler is invoked by the transport's internal dispatch whenever an
// announce matching the registered aspect filter arrives. It may be invoked
// concurrently with the registering goroutine's own code and with itself for
// different announces; implementations must synchronize their own state.
type AnnounceHandler func(dest Fingerprint, identity Identity, appData []byte)

// PacketHandler is invoked by the transport's internal dispatch for every
// inbound payload delivered to a registered destination.
type PacketHandler func(payload []byte)

// DeliveryCallback is invoked once a sent packet's receipt confirms delivery.
type DeliveryCallback func(rtt time.Duration)

// TimeoutCallback is invoked once a sent packet's receipt times out without
// confirmation. The overlay library owns the timeout duration
// (PACKET_TIMEOUT); callers never wait on it synchronously.
type TimeoutCallback func()

// Receipt is returned by Send and lets the caller attach delivery/timeout
// callbacks. Exactly one of the two callbacks fires per attempt, though a
// delivery callback may still arrive after a timeout callback already fired
// (a late receipt); callers must treat that as delivery succeeding.
type Receipt interface {
	SetDeliveryCallback(DeliveryCallback)
	SetTimeoutCallback(TimeoutCallback)
}

// Transport is the capability set consumed from the overlay library.
type Transport interface {
	// LocalIdentity returns this node's own identity.
	LocalIdentity() Identity

	// NewDestination constructs a destination for identity, in the given
	// direction, of the given type, under (appName, aspect).
	NewDestination(identity Identity, dir Direction, dtype DestinationType, appName, aspect string) (Destination, error)

	// Announce broadcasts appData as this node's announce payload on dest.
	Announce(dest Destination, appData []byte) error

	// RegisterAnnounceHandler installs handler for announces whose aspect
	// matches aspectFilter. The returned func deregisters it.
	RegisterAnnounceHandler(aspectFilter string, handler AnnounceHandler) (deregister func())

	// RecallIdentity resolves a previously-announced fingerprint back to an
	// Identity usable to build an outbound Destination. Besides its literal
	// purpose, touching this accessor for a given peer is also how the
	// overlay library's event loop is pumped to process that peer's pending
	// delivery receipts (see ros.Sender's receipt-prompt pass).
	RecallIdentity(fp Fingerprint) (Identity, bool)

	// Send transmits payload to dest as a single packet and requests a
	// delivery receipt.
	Send(dest Destination, payload []byte) (Receipt, error)

	// RegisterPacketCallback installs handler for inbound payloads arriving
	// on dest.
	RegisterPacketCallback(dest Destination, handler PacketHandler)
}
