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

package presence

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisp-net/whisp/cryptosession"
	"github.com/whisp-net/whisp/identity"
	"github.com/whisp-net/whisp/internal/logger"
	"github.com/whisp-net/whisp/peertable"
	"github.com/whisp-net/whisp/wire"
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

type recordingTransport struct {
	sent []struct {
		addr wire.Addr
		raw  []byte
	}
}

func (r *recordingTransport) Send(addr wire.Addr, raw []byte) {
	r.sent = append(r.sent, struct {
		addr wire.Addr
		raw  []byte
	}{addr, raw})
}

type recordingSessions struct {
	dropped   []string
	built     []string
	failBuild bool
}

func (r *recordingSessions) GetOrBuild(peerID, _ string) (*cryptosession.Session, error) {
	if r.failBuild {
		return nil, fmt.Errorf("recordingSessions: build failed")
	}
	r.built = append(r.built, peerID)
	return nil, nil
}

func (r *recordingSessions) Drop(peerID string) {
	r.dropped = append(r.dropped, peerID)
}

func newTestEngine(t *testing.T, verify bool) (*Engine, *peertable.Table, *recordingTransport, *recordingSessions) {
	t.Helper()
	return newTestEngineWithTTL(t, verify, 0)
}

func newTestEngineWithTTL(t *testing.T, verify bool, peerTTL time.Duration) (*Engine, *peertable.Table, *recordingTransport, *recordingSessions) {
	t.Helper()
	self, err := identity.NewSigned("me")
	require.NoError(t, err)
	peers := peertable.New(self.UserID)
	transport := &recordingTransport{}
	sessions := &recordingSessions{}
	return New(self, peers, transport, sessions, logger.NewDefaultLogger(), verify, peerTTL), peers, transport, sessions
}

func TestHandlePresenceInsertsNewPeerAndRepliesWithOwnPresence(t *testing.T) {
	e, peers, transport, _ := newTestEngine(t, false)

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID:   "bob",
		Username: "Bob",
		Status:   wire.StatusOnline,
		PubKey:   "bobpubkey",
	})

	peer, ok := peers.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4", peer.IP)
	assert.Equal(t, 9000, peer.Port)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, wire.Addr{IP: "1.2.3.4", Port: 9000}, transport.sent[0].addr)
}

func TestHandlePresenceBuildsSessionForNewPeer(t *testing.T) {
	e, _, _, sessions := newTestEngine(t, false)

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID:   "bob",
		Username: "Bob",
		Status:   wire.StatusOnline,
		PubKey:   "bobpubkey",
	})

	assert.Contains(t, sessions.built, "bob")
}

func TestHandlePresenceLogsButDoesNotFailOnUnbuildableSession(t *testing.T) {
	e, peers, _, sessions := newTestEngine(t, false)
	sessions.failBuild = true

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID:   "bob",
		Username: "Bob",
		Status:   wire.StatusOnline,
		PubKey:   "bobpubkey",
	})

	_, ok := peers.Get("bob")
	assert.True(t, ok, "an unparseable peer key must not prevent the peer table upsert")
	assert.Empty(t, sessions.built)
}

func TestHandlePresenceOfflineRemovesPeerAndDropsSession(t *testing.T) {
	e, peers, _, sessions := newTestEngine(t, false)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID: "bob",
		Status: wire.StatusOffline,
	})

	_, ok := peers.Get("bob")
	assert.False(t, ok)
	assert.Contains(t, sessions.dropped, "bob")
}

func TestHandlePresenceRefreshDoesNotReannouncePresence(t *testing.T) {
	e, peers, transport, _ := newTestEngine(t, false)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID:   "bob",
		Username: "Bob",
		Status:   wire.StatusOnline,
		PubKey:   "pk",
	})

	assert.Empty(t, transport.sent)
}

func TestHandlePingRepliesWithPong(t *testing.T) {
	e, _, transport, _ := newTestEngine(t, false)
	e.HandlePing(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Ping{UserID: "bob"})

	require.Len(t, transport.sent, 1)
	typ, _, err := wire.DecodePlaintext(transport.sent[0].raw)
	require.NoError(t, err)
	assert.Equal(t, wire.TypePong, typ)
}

func TestHandlePongTouchesLastSeen(t *testing.T) {
	e, peers, _, _ := newTestEngine(t, false)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")
	before, _ := peers.Get("bob")

	time.Sleep(time.Millisecond)
	e.HandlePong(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Pong{})

	after, _ := peers.Get("bob")
	assert.True(t, after.LastSeen.After(before.LastSeen) || after.LastSeen.Equal(before.LastSeen))
}

func TestSweepEvictsStalePeersAndDropsSessions(t *testing.T) {
	e, peers, _, sessions := newTestEngine(t, false)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")

	future := time.Now().Add(StaleTTL + time.Minute)
	e.Sweep(future)

	_, ok := peers.Get("bob")
	assert.False(t, ok)
	assert.Contains(t, sessions.dropped, "bob")
}

func TestSweepUsesConfiguredPeerTTLInsteadOfDefault(t *testing.T) {
	shortTTL := 10 * time.Second
	e, peers, _, sessions := newTestEngineWithTTL(t, false, shortTTL)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")

	// Well past shortTTL but nowhere near the package default StaleTTL:
	// eviction only happens here if the configured TTL is actually used.
	e.Sweep(time.Now().Add(shortTTL + time.Minute))

	_, ok := peers.Get("bob")
	assert.False(t, ok)
	assert.Contains(t, sessions.dropped, "bob")
}

func TestBroadcastSignsPresenceWhenSigningEnabled(t *testing.T) {
	e, peers, transport, _ := newTestEngine(t, false)
	peers.UpsertFromPresence("bob", "Bob", "1.2.3.4", 9000, "pk")

	e.Broadcast(false)

	require.Len(t, transport.sent, 1)
	_, payload, err := wire.DecodePlaintext(transport.sent[0].raw)
	require.NoError(t, err)
	p := payload.(wire.Presence)
	assert.NotEmpty(t, p.Sig)
	assert.NotEmpty(t, p.SigPubKey)
}

func TestHandlePresenceRejectsUnsignedWhenVerificationEnabled(t *testing.T) {
	e, peers, _, _ := newTestEngine(t, true)

	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, wire.Presence{
		UserID:   "bob",
		Username: "Bob",
		Status:   wire.StatusOnline,
		PubKey:   "pk",
	})

	_, ok := peers.Get("bob")
	assert.False(t, ok)
}

func TestHandlePresenceAcceptsValidSignatureAndRejectsKeyChange(t *testing.T) {
	e, peers, _, _ := newTestEngine(t, true)

	bob, err := identity.NewSigned("bob")
	require.NoError(t, err)
	bob.UserID = "bob"

	transcript := wire.PresenceTranscript(bob.UserID, wire.StatusOnline, bob.BoxPublicBase64())
	sig := bob.Sign(transcript)

	good := wire.Presence{
		UserID:    bob.UserID,
		Username:  "Bob",
		Status:    wire.StatusOnline,
		PubKey:    bob.BoxPublicBase64(),
		Sig:       b64(sig),
		SigPubKey: bob.SigningPublicBase64(),
	}
	e.HandlePresence(wire.Addr{IP: "1.2.3.4", Port: 9000}, good)

	_, ok := peers.Get("bob")
	require.True(t, ok)

	impostor, err := identity.NewSigned("bob")
	require.NoError(t, err)
	impostor.UserID = "bob"
	impostorTranscript := wire.PresenceTranscript(impostor.UserID, wire.StatusOnline, impostor.BoxPublicBase64())
	impostorSig := impostor.Sign(impostorTranscript)

	bad := wire.Presence{
		UserID:    "bob",
		Username:  "Bob",
		Status:    wire.StatusOnline,
		PubKey:    impostor.BoxPublicBase64(),
		Sig:       b64(impostorSig),
		SigPubKey: impostor.SigningPublicBase64(),
	}
	e.HandlePresence(wire.Addr{IP: "5.6.7.8", Port: 9001}, bad)

	peer, _ := peers.Get("bob")
	assert.Equal(t, "1.2.3.4", peer.IP, "impostor with a different signing key must not override the trusted peer")
}
