// Copyright (C) 2025 whisp-net
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package presence is the Presence & Keepalive Engine (spec.md §4.6): it
// drives the periodic ping/presence sweep and stale-peer eviction, and
// answers inbound presence/ping datagrams. Optional presence signing
// (SPEC_FULL.md §4.14) verifies a peer's Ed25519 signature against the
// key first seen for that peer, so a later datagram claiming the same
// user-id with a different key is rejected rather than silently trusted.
package presence

import (
	"crypto/ed25519"
	"encoding/base64"
	"sync"
	"time"

	"github.com/whisp-net/whisp/cryptosession"
	"github.com/whisp-net/whisp/identity"
	"github.com/whisp-net/whisp/internal/logger"
	"github.com/whisp-net/whisp/peertable"
	"github.com/whisp-net/whisp/wire"
)

// SweepInterval is the cadence of the ping+presence broadcast sweep
// (spec.md §4.6).
const SweepInterval = 30 * time.Second

// StaleTTL is how long a peer may go unseen before eviction (spec.md
// §4.6).
const StaleTTL = 5 * time.Minute

// Transport is the subset of wire.Dispatcher the Engine needs to send
// datagrams.
type Transport interface {
	Send(addr wire.Addr, raw []byte)
}

// Sessions is the subset of cryptosession.Cache the Engine needs to
// build/refresh a session as soon as a peer is known (spec.md §4.5) and
// to drop state for evicted peers.
type Sessions interface {
	GetOrBuild(peerID, peerPublicKeyB64 string) (*cryptosession.Session, error)
	Drop(peerID string)
}

// Engine answers presence/ping datagrams and drives the periodic sweep.
type Engine struct {
	self  *identity.Self
	peers *peertable.Table

	transport Transport
	sessions  Sessions
	log       logger.Logger

	verifySignatures bool
	peerTTL          time.Duration

	mu         sync.Mutex
	trustedKey map[string]string // first-seen sig_pubkey (base64), by user-id
}

// New builds a presence Engine. verifySignatures enables SPEC_FULL.md
// §4.14: every Presence datagram must then carry a Sig field, verified
// against the key first seen for that user-id. peerTTL overrides StaleTTL
// (spec.md §4.10's session.peer_ttl); a value <= 0 falls back to StaleTTL.
func New(self *identity.Self, peers *peertable.Table, transport Transport, sessions Sessions, log logger.Logger, verifySignatures bool, peerTTL time.Duration) *Engine {
	if peerTTL <= 0 {
		peerTTL = StaleTTL
	}
	return &Engine{
		self:             self,
		peers:            peers,
		transport:        transport,
		sessions:         sessions,
		log:              log,
		verifySignatures: verifySignatures,
		peerTTL:          peerTTL,
		trustedKey:       make(map[string]string),
	}
}

// Broadcast sends this node's presence to every known peer, status
// online unless offline is true (used for the graceful-shutdown
// announcement, spec.md §5).
func (e *Engine) Broadcast(offline bool) {
	status := wire.StatusOnline
	if offline {
		status = wire.StatusOffline
	}

	p := wire.Presence{
		UserID:   e.self.UserID,
		Username: e.self.Username,
		Status:   status,
		PubKey:   e.self.BoxPublicBase64(),
	}
	if e.self.Signing != nil {
		transcript := wire.PresenceTranscript(p.UserID, status, p.PubKey)
		p.Sig = base64.StdEncoding.EncodeToString(e.self.Sign(transcript))
		p.SigPubKey = e.self.SigningPublicBase64()
	}

	raw, err := wire.EncodePresence(p)
	if err != nil {
		e.log.Error("presence: encode broadcast", logger.Error(err))
		return
	}

	for _, peer := range e.peers.List() {
		e.transport.Send(wire.Addr{IP: peer.IP, Port: peer.Port}, raw)
	}
}

// Sweep runs one iteration of spec.md §4.6's periodic cycle: ping every
// known peer, rebroadcast presence, and evict peers unseen for longer
// than the Engine's peer TTL (StaleTTL unless New was given a positive
// peerTTL).
func (e *Engine) Sweep(now time.Time) {
	pingRaw, err := wire.EncodePing(e.self.UserID)
	if err != nil {
		e.log.Error("presence: encode ping", logger.Error(err))
	} else {
		for _, peer := range e.peers.List() {
			e.transport.Send(wire.Addr{IP: peer.IP, Port: peer.Port}, pingRaw)
		}
	}

	e.Broadcast(false)

	evicted := e.peers.EvictStale(now, e.peerTTL)
	for _, userID := range evicted {
		e.sessions.Drop(userID)
		e.forgetTrustedKey(userID)
		e.log.Info("presence: evicted stale peer", logger.String("user_id", userID))
	}
}

// HandlePresence processes an inbound Presence datagram from addr
// (spec.md §4.6). The peer table is updated from the datagram's source
// address, never from a self-reported address inside the payload, so a
// peer cannot announce an address it doesn't control.
func (e *Engine) HandlePresence(from wire.Addr, p wire.Presence) {
	if e.verifySignatures && !e.verifyPresence(p) {
		e.log.Warn("presence: rejected datagram with invalid or missing signature", logger.String("user_id", p.UserID))
		return
	}

	if p.Status == wire.StatusOffline {
		e.peers.MarkOffline(p.UserID)
		e.sessions.Drop(p.UserID)
		e.forgetTrustedKey(p.UserID)
		return
	}

	outcome := e.peers.UpsertFromPresence(p.UserID, p.Username, from.IP, from.Port, p.PubKey)
	if outcome == peertable.New || outcome == peertable.AddressChanged {
		// Build/refresh the Session as soon as the peer is known (spec.md
		// §4.5's Session-exists-iff-Peer-present-and-key-parseable
		// invariant); an unparseable key just leaves no session, it
		// doesn't abort presence handling.
		if _, err := e.sessions.GetOrBuild(p.UserID, p.PubKey); err != nil {
			e.log.Warn("presence: peer's public key is not usable for a session", logger.String("user_id", p.UserID), logger.Error(err))
		}

		// Reply with our own presence so a freshly-discovered peer (or
		// one that just changed address) learns about us without
		// waiting for the next sweep.
		e.Broadcast(false)
	}
}

// HandlePing replies immediately with a Pong (spec.md §4.6).
func (e *Engine) HandlePing(from wire.Addr, _ wire.Ping) {
	raw, err := wire.EncodePong()
	if err != nil {
		e.log.Error("presence: encode pong", logger.Error(err))
		return
	}
	e.transport.Send(from, raw)
}

// HandlePong just refreshes the sender's last-seen timestamp, if known.
func (e *Engine) HandlePong(from wire.Addr, _ wire.Pong) {
	if peer, ok := e.peers.FindByAddr(from.IP, from.Port); ok {
		e.peers.Touch(peer.UserID)
	}
}

func (e *Engine) verifyPresence(p wire.Presence) bool {
	if p.Sig == "" || p.SigPubKey == "" {
		return false
	}

	e.mu.Lock()
	trusted, known := e.trustedKey[p.UserID]
	if !known {
		trusted = p.SigPubKey
		e.trustedKey[p.UserID] = trusted
	}
	e.mu.Unlock()

	if trusted != p.SigPubKey {
		// user-id reused with a different signing key: reject rather
		// than silently re-trusting (SPEC_FULL.md §4.14).
		return false
	}

	sigPub, err := base64.StdEncoding.DecodeString(p.SigPubKey)
	if err != nil || len(sigPub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(p.Sig)
	if err != nil {
		return false
	}

	transcript := wire.PresenceTranscript(p.UserID, p.Status, p.PubKey)
	return ed25519.Verify(sigPub, transcript, sig)
}

func (e *Engine) forgetTrustedKey(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trustedKey, userID)
}
