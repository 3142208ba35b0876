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

// Package wire is the tagged-JSON codec shared by every plaintext control
// datagram and every plaintext payload carried inside a ciphertext
// envelope (spec.md §4.5, §6). A single `type` field discriminates the
// variant, re-expressed here as a Go tagged union instead of the
// original's ad-hoc dynamic JSON (spec.md §9).
package wire

import (
	"encoding/json"
	"fmt"
)

// MaxPlaintextSize bounds a plaintext control datagram (spec.md §6).
const MaxPlaintextSize = 4096

// Type discriminates a decoded Envelope.
type Type string

const (
	TypePresence Type = "presence"
	TypePing     Type = "ping"
	TypePong     Type = "pong"
	TypeMessage  Type = "message"
	TypeReceipt  Type = "receipt"
)

// Status values carried by a Presence payload.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ReceiptStatus values carried by a Receipt payload.
const (
	ReceiptDelivered = "delivered"
)

// Presence announces (or withdraws) a node's reachability and public key.
type Presence struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
	PubKey   string `json:"pubkey"`
	// Sig and SigPubKey are populated only when SPEC_FULL.md §4.14
	// presence signing is enabled: Sig is an Ed25519 signature over
	// user_id||status||pubkey, and SigPubKey is the Ed25519 public key
	// it verifies against (distinct from PubKey, which is the X25519
	// box key used for message encryption).
	Sig       string `json:"sig,omitempty"`
	SigPubKey string `json:"sig_pubkey,omitempty"`
}

// Ping requests an immediate Pong from its destination, refreshing NAT
// mappings in both directions.
type Ping struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
}

// Pong is Ping's reply. It carries no state.
type Pong struct {
	Type Type `json:"type"`
}

// Message is the plaintext carried inside a ciphertext envelope for a
// chat message.
type Message struct {
	Type         Type   `json:"type"`
	MessageID    string `json:"message_id"`
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	ToUserID     string `json:"to_user_id"`
	ToUsername   string `json:"to_username"`
	Content      string `json:"content"`
	Timestamp    int64  `json:"timestamp"`
}

// Receipt is the plaintext carried inside a ciphertext envelope
// acknowledging a Message's delivery.
type Receipt struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// EncodePresence, EncodePing, EncodePong, EncodeMessage, EncodeReceipt
// marshal their respective payload, stamping the `type` discriminator.

func EncodePresence(p Presence) ([]byte, error) {
	p.Type = TypePresence
	return json.Marshal(p)
}

func EncodePing(userID string) ([]byte, error) {
	return json.Marshal(Ping{Type: TypePing, UserID: userID})
}

func EncodePong() ([]byte, error) {
	return json.Marshal(Pong{Type: TypePong})
}

func EncodeMessage(m Message) ([]byte, error) {
	m.Type = TypeMessage
	return json.Marshal(m)
}

func EncodeReceipt(messageID string) ([]byte, error) {
	return json.Marshal(Receipt{Type: TypeReceipt, MessageID: messageID, Status: ReceiptDelivered})
}

// typeTag is decoded first to discriminate which concrete type to parse
// the full payload into.
type typeTag struct {
	Type Type `json:"type"`
}

// DecodePlaintext classifies raw as one of Presence/Ping/Pong and
// returns the decoded value as `any`, or an error if raw isn't valid
// JSON or carries an unrecognized type. Per spec.md §4.5, a JSON decode
// failure here means the dispatcher should treat raw as ciphertext
// instead — callers are expected to try DecodePlaintext first and fall
// back accordingly, not to treat this error as fatal.
func DecodePlaintext(raw []byte) (Type, any, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", nil, fmt.Errorf("wire: not valid json: %w", err)
	}

	switch tag.Type {
	case TypePresence:
		var p Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, fmt.Errorf("wire: decode presence: %w", err)
		}
		return TypePresence, p, nil
	case TypePing:
		var p Ping
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, fmt.Errorf("wire: decode ping: %w", err)
		}
		return TypePing, p, nil
	case TypePong:
		var p Pong
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, fmt.Errorf("wire: decode pong: %w", err)
		}
		return TypePong, p, nil
	default:
		return "", nil, fmt.Errorf("wire: unrecognized plaintext type %q", tag.Type)
	}
}

// DecodeCiphertextPayload classifies a plaintext payload recovered from
// inside a ciphertext envelope as Message or Receipt.
func DecodeCiphertextPayload(raw []byte) (Type, any, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", nil, fmt.Errorf("wire: not valid json: %w", err)
	}

	switch tag.Type {
	case TypeMessage:
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", nil, fmt.Errorf("wire: decode message: %w", err)
		}
		return TypeMessage, m, nil
	case TypeReceipt:
		var r Receipt
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", nil, fmt.Errorf("wire: decode receipt: %w", err)
		}
		return TypeReceipt, r, nil
	default:
		return "", nil, fmt.Errorf("wire: unrecognized ciphertext payload type %q", tag.Type)
	}
}

// PresenceTranscript is the byte string signed/verified for SPEC_FULL.md
// §4.14 presence signing: user_id || status || pubkey.
func PresenceTranscript(userID, status, pubKey string) []byte {
	return []byte(userID + status + pubKey)
}
