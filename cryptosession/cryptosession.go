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

// Package cryptosession is the Crypto Session Cache: it owns the local
// long-term X25519 keypair and lazily memoizes an authenticated
// public-key box per peer, keyed by peer user-id.
package cryptosession

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"
)

// ErrKeyParse is returned by GetOrBuild when the peer's advertised public
// key does not decode to a valid 32-byte Curve25519 point. spec.md §4.3:
// the peer is then considered unreachable for encrypted traffic.
var ErrKeyParse = fmt.Errorf("cryptosession: invalid peer public key")

// Session is one peer's precomputed static-static shared key. Box output
// is self-describing (nonce || sealed box); no extra framing is added.
type Session struct {
	peerID string
	shared *[32]byte
}

// Cache is the thread-safe, per-peer session cache.
type Cache struct {
	privateKey *[32]byte
	publicKey  *[32]byte

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Cache around the local node's long-term box keypair.
func New(publicKey, privateKey *[32]byte) *Cache {
	return &Cache{
		privateKey: privateKey,
		publicKey:  publicKey,
		sessions:   make(map[string]*Session),
	}
}

// PublicKeyBase64 is what gets published in presence and bootstrap
// messages.
func (c *Cache) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(c.publicKey[:])
}

// GetOrBuild returns the cached Session for peerID, building and caching
// one from peerPublicKeyB64 (base64 of a 32-byte Curve25519 point) if
// absent. ErrKeyParse is returned, and no session is cached, if the key
// does not decode.
func (c *Cache) GetOrBuild(peerID, peerPublicKeyB64 string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[peerID]; ok {
		return s, nil
	}

	peerPub, err := decodePeerKey(peerPublicKeyB64)
	if err != nil {
		return nil, err
	}

	var shared [32]byte
	box.Precompute(&shared, peerPub, c.privateKey)

	s := &Session{peerID: peerID, shared: &shared}
	c.sessions[peerID] = s
	return s, nil
}

// Drop removes peerID's cached session, e.g. when its Peer Table entry is
// evicted.
func (c *Cache) Drop(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, peerID)
}

// Has reports whether a session is already cached for peerID, without
// building one.
func (c *Cache) Has(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[peerID]
	return ok
}

// Seal encrypts plaintext for this session's peer. The returned
// ciphertext is nonce || sealed box, with no further framing.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("cryptosession: generate nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+box.Overhead)
	out = append(out, nonce[:]...)
	return box.SealAfterPrecomputation(out, plaintext, &nonce, s.shared), nil
}

// Open decrypts a ciphertext previously produced by Seal on the
// corresponding peer's matching session.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("cryptosession: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext[24:], &nonce, s.shared)
	if !ok {
		return nil, fmt.Errorf("cryptosession: authentication failed")
	}
	return plaintext, nil
}

func decodePeerKey(b64 string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ErrKeyParse
	}
	if len(raw) != 32 {
		return nil, ErrKeyParse
	}
	var pub [32]byte
	copy(pub[:], raw)
	return &pub, nil
}
