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
	"fmt"
	"net"
	"time"

	"github.com/whisp-net/whisp/internal/logger"
)

// Addr is a parsed UDP source/destination address, kept as (ip, port)
// rather than *net.UDPAddr so peertable can compare plain strings/ints.
type Addr struct {
	IP   string
	Port int
}

func (a Addr) String() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

func (a Addr) udpAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
}

// Handlers is the set of callbacks a Dispatcher invokes per classified
// datagram. Ciphertext is handed to OnCiphertext as opaque bytes
// together with the sender address; decrypting it is the caller's
// responsibility (supervisor.Node does this with its
// cryptosession.Cache).
type Handlers struct {
	OnPresence   func(from Addr, p Presence)
	OnPing       func(from Addr, p Ping)
	OnPong       func(from Addr, p Pong)
	OnCiphertext func(from Addr, raw []byte)
}

// Socket is the subset of *net.UDPConn's methods the Dispatcher needs; a real
// *net.UDPConn satisfies it. Defined as an interface so tests can
// exercise the Dispatcher over loopback without the supervisor's full
// wiring.
type Socket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dispatcher owns the shared UDP socket's receive loop. It classifies
// each inbound datagram as plaintext control or ciphertext (spec.md
// §4.5) and routes it to Handlers.
type Dispatcher struct {
	socket   Socket
	handlers Handlers
	log      logger.Logger
}

// New creates a Dispatcher around socket, invoking handlers for each
// classified datagram.
func New(socket Socket, handlers Handlers, log logger.Logger) *Dispatcher {
	return &Dispatcher{socket: socket, handlers: handlers, log: log}
}

// Send writes raw bytes to addr. Errors are logged, never fatal
// (spec.md §5: "UDP send — errors logged, never fatal").
func (d *Dispatcher) Send(addr Addr, raw []byte) {
	if _, err := d.socket.WriteToUDP(raw, addr.udpAddr()); err != nil {
		d.log.Warn("send failed", logger.String("addr", addr.String()), logger.Error(err))
	}
}

// Run blocks reading datagrams until running returns false or the
// socket errors unrecoverably. It uses a 1-second read deadline so the
// cooperative-shutdown flag is re-checked every second (spec.md §5).
func (d *Dispatcher) Run(running func() bool) error {
	buf := make([]byte, MaxPlaintextSize*2)
	for running() {
		_ = d.socket.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, udpAddr, err := d.socket.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("wire: read: %w", err)
		}

		from := Addr{IP: udpAddr.IP.String(), Port: udpAddr.Port}
		d.dispatch(from, append([]byte(nil), buf[:n]...))
	}
	return nil
}

func (d *Dispatcher) dispatch(from Addr, raw []byte) {
	typ, payload, err := DecodePlaintext(raw)
	if err != nil {
		// Not valid JSON, or not a recognized control type: treat as
		// ciphertext per spec.md §4.5.
		if d.handlers.OnCiphertext != nil {
			d.handlers.OnCiphertext(from, raw)
		}
		return
	}

	switch typ {
	case TypePresence:
		if d.handlers.OnPresence != nil {
			d.handlers.OnPresence(from, payload.(Presence))
		}
	case TypePing:
		if d.handlers.OnPing != nil {
			d.handlers.OnPing(from, payload.(Ping))
		}
	case TypePong:
		if d.handlers.OnPong != nil {
			d.handlers.OnPong(from, payload.(Pong))
		}
	default:
		d.log.Debug("dropped datagram with unrecognized type", logger.String("from", from.String()))
	}
}
