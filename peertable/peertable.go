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

// Package peertable is the authoritative in-memory registry of live
// peers, keyed by stable user-id. All reads and writes serialize through
// a single exclusive lock (spec.md §4.4: "no reader/writer distinction is
// required at this scale").
package peertable

import (
	"strings"
	"sync"
	"time"
)

// UpsertOutcome classifies how upsert_from_presence changed the table.
type UpsertOutcome int

const (
	New UpsertOutcome = iota
	AddressChanged
	Refreshed
)

// Peer is one live peer's addressable identity plus metadata.
type Peer struct {
	UserID   string
	Username string
	IP       string
	Port     int
	PubKey   string // base64, as advertised in presence/bootstrap
	LastSeen time.Time
}

// Table is the thread-safe peer registry.
type Table struct {
	selfUserID string
	now        func() time.Time

	mu    sync.Mutex
	peers map[string]*Peer
}

// New creates an empty Table. selfUserID is filtered out of every
// mutation, so self never appears in its own Peer Table (spec.md §3).
func New(selfUserID string) *Table {
	return &Table{
		selfUserID: selfUserID,
		now:        time.Now,
		peers:      make(map[string]*Peer),
	}
}

// UpsertFromPresence inserts or updates a peer. If absent, it is
// inserted (New). If present with the same (ip, port), only last-seen
// advances (Refreshed). If present with a different (ip, port), the
// address is replaced in place, user-id unchanged (AddressChanged,
// spec.md §8 scenario 3). Self is always ignored.
func (t *Table) UpsertFromPresence(userID, username, ip string, port int, pubKey string) UpsertOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userID == t.selfUserID {
		return Refreshed
	}

	now := t.now()
	existing, ok := t.peers[userID]
	if !ok {
		t.peers[userID] = &Peer{
			UserID:   userID,
			Username: username,
			IP:       ip,
			Port:     port,
			PubKey:   pubKey,
			LastSeen: now,
		}
		return New
	}

	outcome := Refreshed
	if existing.IP != ip || existing.Port != port {
		existing.IP = ip
		existing.Port = port
		outcome = AddressChanged
	}
	existing.Username = username
	existing.PubKey = pubKey
	if now.After(existing.LastSeen) {
		existing.LastSeen = now
	}
	return outcome
}

// MarkOffline removes userID from the table. Callers are responsible for
// also dropping its cryptosession.Cache entry.
func (t *Table) MarkOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, userID)
}

// Touch advances userID's last-seen to now, if present.
func (t *Table) Touch(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[userID]; ok {
		now := t.now()
		if now.After(p.LastSeen) {
			p.LastSeen = now
		}
	}
}

// LookupByName does a case-insensitive match on username. Returns a copy
// of the Peer, and false if no peer matches.
func (t *Table) LookupByName(name string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lower := strings.ToLower(name)
	for _, p := range t.peers {
		if strings.ToLower(p.Username) == lower {
			return *p, true
		}
	}
	return Peer{}, false
}

// FindByAddr identifies the sender of a ciphertext datagram by its
// source (ip, port). Plaintext is not required to pre-exist for this
// lookup to be meaningful, but an unrecognized address returns false.
func (t *Table) FindByAddr(ip string, port int) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.peers {
		if p.IP == ip && p.Port == port {
			return *p, true
		}
	}
	return Peer{}, false
}

// Get returns a copy of userID's Peer, if present.
func (t *Table) Get(userID string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[userID]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// EvictStale removes every peer whose last-seen is older than
// now-ttl, returning their user-ids so callers can drop the
// corresponding cryptosession.Cache entries outside the lock.
func (t *Table) EvictStale(now time.Time, ttl time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-ttl)
	var evicted []string
	for id, p := range t.peers {
		if p.LastSeen.Before(cutoff) {
			evicted = append(evicted, id)
			delete(t.peers, id)
		}
	}
	return evicted
}

// List returns a snapshot of every peer currently in the table, sorted
// by neither order nor stability — callers that need a consistent
// ordering should sort the result themselves.
func (t *Table) List() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// Len returns the current peer count.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
