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

package wire

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/whisp-net/whisp/internal/logger"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func TestDispatcherRoutesPresenceAndStopsOnRunningFalse(t *testing.T) {
	serverConn := listenLoopback(t)
	defer serverConn.Close()

	var presenceCount int32
	var mu sync.Mutex
	var gotFrom Addr

	d := New(serverConn, Handlers{
		OnPresence: func(from Addr, p Presence) {
			atomic.AddInt32(&presenceCount, 1)
			mu.Lock()
			gotFrom = from
			mu.Unlock()
		},
	}, logger.NewDefaultLogger())

	var running int32 = 1
	done := make(chan error, 1)
	go func() {
		done <- d.Run(func() bool { return atomic.LoadInt32(&running) == 1 })
	}()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	raw, err := EncodePresence(Presence{UserID: "alice", Username: "Alice", Status: StatusOnline, PubKey: "pk"})
	require.NoError(t, err)
	_, err = clientConn.Write(raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&presenceCount) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	fromIP := gotFrom.IP
	mu.Unlock()
	require.NotEmpty(t, fromIP)

	atomic.StoreInt32(&running, 0)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not stop within grace period")
	}
}

func TestDispatcherTreatsNonJSONAsCiphertext(t *testing.T) {
	serverConn := listenLoopback(t)
	defer serverConn.Close()

	ciphertextCh := make(chan []byte, 1)
	d := New(serverConn, Handlers{
		OnCiphertext: func(from Addr, raw []byte) {
			ciphertextCh <- raw
		},
	}, logger.NewDefaultLogger())

	var running int32 = 1
	go func() { _ = d.Run(func() bool { return atomic.LoadInt32(&running) == 1 }) }()
	defer atomic.StoreInt32(&running, 0)

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	_, err = clientConn.Write(payload)
	require.NoError(t, err)

	select {
	case got := <-ciphertextCh:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("ciphertext handler was not invoked")
	}
}
