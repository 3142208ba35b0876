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

// Package messaging is the Messaging Engine (spec.md §4.7): it
// sequences outgoing messages with unique ids, places them in a
// pending-receipt queue, and resolves them on incoming receipts. No
// cross-message ordering or automatic retransmission is attempted; UDP
// delivery is best-effort and receipt-driven.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/whisp-net/whisp/cryptosession"
	"github.com/whisp-net/whisp/peertable"
	"github.com/whisp-net/whisp/wire"
)

// Result classifies the outcome of Send.
type Result int

const (
	OK Result = iota
	NotFound
	TransportError
)

// PendingMessage is an outbound message awaiting a delivery receipt.
type PendingMessage struct {
	MessageID       string
	RecipientUserID string
	RecipientName   string
	Content         string
	CreatedAt       time.Time
}

// Transport is the subset of wire.Dispatcher the Messaging Engine needs
// to hand off an encrypted datagram to its destination address.
type Transport interface {
	Send(addr wire.Addr, raw []byte)
}

// Engine implements spec.md §4.7 against a shared peertable.Table and
// cryptosession.Cache.
type Engine struct {
	selfUserID   string
	selfUsername string
	peers        *peertable.Table
	sessions     *cryptosession.Cache
	transport    Transport
	now          func() time.Time

	mu      sync.Mutex
	pending []PendingMessage
}

// New builds a Messaging Engine.
func New(selfUserID, selfUsername string, peers *peertable.Table, sessions *cryptosession.Cache, transport Transport) *Engine {
	return &Engine{
		selfUserID:   selfUserID,
		selfUsername: selfUsername,
		peers:        peers,
		sessions:     sessions,
		transport:    transport,
		now:          time.Now,
	}
}

// Send resolves toName, encrypts content under the recipient's session,
// enqueues a PendingMessage, and sends it. Per spec.md §4.7: no session
// means NotFound, matching "Resolve to_name ... If absent or no Session
// exists for that peer, return not-found."
func (e *Engine) Send(toName, content string) (Result, string) {
	peer, ok := e.peers.LookupByName(toName)
	if !ok {
		return NotFound, ""
	}
	if !e.sessions.Has(peer.UserID) {
		return NotFound, ""
	}

	messageID := uuid.NewString()
	msg := wire.Message{
		MessageID:    messageID,
		FromUserID:   e.selfUserID,
		FromUsername: e.selfUsername,
		ToUserID:     peer.UserID,
		ToUsername:   peer.Username,
		Content:      content,
		Timestamp:    e.now().Unix(),
	}

	e.mu.Lock()
	e.pending = append(e.pending, PendingMessage{
		MessageID:       messageID,
		RecipientUserID: peer.UserID,
		RecipientName:   peer.Username,
		Content:         content,
		CreatedAt:       e.now(),
	})
	e.mu.Unlock()

	raw, err := wire.EncodeMessage(msg)
	if err != nil {
		return TransportError, messageID
	}

	session, err := e.sessions.GetOrBuild(peer.UserID, peer.PubKey)
	if err != nil {
		return TransportError, messageID
	}
	ciphertext, err := session.Seal(raw)
	if err != nil {
		return TransportError, messageID
	}

	e.transport.Send(wire.Addr{IP: peer.IP, Port: peer.Port}, ciphertext)
	return OK, messageID
}

// ResolveReceipt removes the first PendingMessage matching messageID.
// Per spec.md §4.7, the queue is scanned linearly and only the first
// match is removed; duplicate receipts with the same id are harmless
// no-ops. Returns true iff an entry was removed.
func (e *Engine) ResolveReceipt(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.pending {
		if p.MessageID == messageID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns a snapshot of the queue, for metrics/introspection.
func (e *Engine) Pending() []PendingMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingMessage, len(e.pending))
	copy(out, e.pending)
	return out
}

// PendingCount reports the current queue length.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// BuildReceipt encrypts a receipt{message_id, status=delivered} for
// sending back to the original sender (spec.md §4.5: "surface to
// collaborator ... then send a ciphertext receipt ... back").
func BuildReceipt(session *cryptosession.Session, messageID string) ([]byte, error) {
	raw, err := wire.EncodeReceipt(messageID)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode receipt: %w", err)
	}
	return session.Seal(raw)
}
