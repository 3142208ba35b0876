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

// Package identity builds a node's Self record: its random user-id, its
// long-term X25519 box keypair, and, optionally, an Ed25519 identity
// keypair used to sign presence announcements.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/nacl/box"
)

// Self is the local node's identity: a random 8-hex user-id, a display
// name, and its long-term box keypair. BoxPrivate never leaves the
// process; BoxPublic is what gets published in presence and bootstrap
// messages.
type Self struct {
	UserID     string
	Username   string
	BoxPublic  *[32]byte
	BoxPrivate *[32]byte

	// Signing is non-nil only when presence signing is enabled.
	Signing *SigningKeyPair
}

// SigningKeyPair is the optional Ed25519 identity layer. Its private seed
// deterministically derives the X25519 box keypair, so one seed anchors
// both identity and key agreement.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// New creates a Self with a fresh random user-id and a freshly generated
// X25519 box keypair. Username may be empty; callers typically fill it
// in from config or a CLI flag before the first presence broadcast.
func New(username string) (*Self, error) {
	userID, err := randomUserID()
	if err != nil {
		return nil, fmt.Errorf("identity: generate user id: %w", err)
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate box keypair: %w", err)
	}

	return &Self{
		UserID:     userID,
		Username:   username,
		BoxPublic:  pub,
		BoxPrivate: priv,
	}, nil
}

// NewSigned creates a Self whose X25519 box keypair is derived from a
// freshly generated Ed25519 seed, and which additionally carries the
// Ed25519 keypair for signing presence announcements (SPEC_FULL.md
// §4.14). The derivation mirrors the teacher's Ed25519→X25519 bridge
// (crypto/keys/x25519.go): RFC 8032 §5.1.5 clamped SHA-512 of the seed
// for the private scalar, edwards25519 point decompression followed by
// Montgomery-form extraction for the public key.
func NewSigned(username string) (*Self, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 keypair: %w", err)
	}
	return fromEd25519(username, edPub, edPriv)
}

// NewSignedFromSeed rebuilds a signed Self from a persisted 32-byte
// Ed25519 seed, so restarting with Config.Security.SeedFile set yields
// the same user-id-independent identity across restarts. The user-id
// itself is still freshly randomized per spec.md §3 ("restart means a
// fresh keypair and user-id"); only the signing/box key material is
// stable.
func NewSignedFromSeed(username string, seed []byte) (*Self, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	edPriv := ed25519.NewKeyFromSeed(seed)
	edPub := edPriv.Public().(ed25519.PublicKey)
	return fromEd25519(username, edPub, edPriv)
}

func fromEd25519(username string, edPub ed25519.PublicKey, edPriv ed25519.PrivateKey) (*Self, error) {
	userID, err := randomUserID()
	if err != nil {
		return nil, fmt.Errorf("identity: generate user id: %w", err)
	}

	boxPriv := ed25519SeedToX25519Private(edPriv.Seed())
	boxPub, err := ed25519PublicToX25519(edPub)
	if err != nil {
		return nil, err
	}

	return &Self{
		UserID:     userID,
		Username:   username,
		BoxPublic:  boxPub,
		BoxPrivate: boxPriv,
		Signing:    &SigningKeyPair{Public: edPub, Private: edPriv},
	}, nil
}

// Sign produces an Ed25519 signature over the presence transcript
// (user_id || status || pubkey, see SPEC_FULL.md §4.14). It panics if
// Signing is nil; callers must check Config.Security.SignPresence first.
func (s *Self) Sign(transcript []byte) []byte {
	return ed25519.Sign(s.Signing.Private, transcript)
}

// BoxPublicBase64 is what gets published as a Presence/bootstrap pubkey.
func (s *Self) BoxPublicBase64() string {
	return base64.StdEncoding.EncodeToString(s.BoxPublic[:])
}

// SigningPublicBase64 is what gets published as a Presence sig_pubkey
// when Signing is non-nil.
func (s *Self) SigningPublicBase64() string {
	return base64.StdEncoding.EncodeToString(s.Signing.Public)
}

func randomUserID() (string, error) {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

func ed25519SeedToX25519Private(seed []byte) *[32]byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var priv [32]byte
	copy(priv[:], h[:32])
	return &priv
}

func ed25519PublicToX25519(pub ed25519.PublicKey) (*[32]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid ed25519 public key: %w", err)
	}
	var out [32]byte
	copy(out[:], p.BytesMontgomery())
	return &out, nil
}
