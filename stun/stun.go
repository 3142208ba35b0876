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

// Package stun implements the simplified RFC 5389 client subset in
// spec.md §4.1/§6: a Binding Request over the node's own UDP socket
// (so the learned mapping is the one peers will actually reach), with a
// parser for the XOR-MAPPED-ADDRESS attribute and an HTTPS IP-echo
// fallback when every server is unreachable.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/whisp-net/whisp/internal/logger"
)

const (
	bindingRequestType = 0x0001
	magicCookie        = 0x2112A442
)

// Binding is a discovered public address.
type Binding struct {
	IP   string
	Port int
}

// Socket is the minimal UDP contract needed to run a STUN exchange on
// the same socket peer traffic uses.
type Socket interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
}

// Client issues Binding Requests and falls back to an HTTPS IP-echo
// endpoint.
type Client struct {
	socket      Socket
	servers     []string
	timeout     time.Duration
	fallbackURL string
	httpClient  *http.Client
	log         logger.Logger
}

// New builds a Client. The port assumed when the HTTPS fallback is
// reached is not set here; it is Discover's localPort argument (spec.md
// §4.1: "the port is assumed equal to the locally bound port").
func New(socket Socket, servers []string, timeout time.Duration, fallbackURL string, log logger.Logger) *Client {
	return &Client{
		socket:      socket,
		servers:     servers,
		timeout:     timeout,
		fallbackURL: fallbackURL,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		log:         log,
	}
}

// Discover sends a Binding Request to each configured server, in order,
// retrying the whole pass up to maxRetries times. If every attempt
// fails, it falls back to the HTTPS IP-echo endpoint, assuming
// localPort as the public port.
func (c *Client) Discover(maxRetries int, localPort int) (Binding, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		for _, server := range c.servers {
			b, err := c.queryServer(server)
			if err == nil {
				return b, nil
			}
			c.log.Warn("stun server unreachable", logger.String("server", server), logger.Error(err))
		}
	}

	if c.fallbackURL == "" {
		return Binding{}, fmt.Errorf("stun: all servers unreachable and no fallback configured")
	}

	ip, err := c.httpFallback()
	if err != nil {
		return Binding{}, fmt.Errorf("stun: all servers unreachable, fallback failed: %w", err)
	}
	c.log.Warn("stun fallback used, NAT traversal may not work", logger.String("ip", ip))
	return Binding{IP: ip, Port: localPort}, nil
}

func (c *Client) queryServer(server string) (Binding, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return Binding{}, fmt.Errorf("resolve %s: %w", server, err)
	}

	req := buildBindingRequest()
	if _, err := c.socket.WriteToUDP(req, addr); err != nil {
		return Binding{}, fmt.Errorf("send to %s: %w", server, err)
	}

	if err := c.socket.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return Binding{}, err
	}

	buf := make([]byte, 512)
	n, _, err := c.socket.ReadFromUDP(buf)
	if err != nil {
		return Binding{}, fmt.Errorf("read from %s: %w", server, err)
	}
	return parseBindingResponse(buf[:n])
}

// buildBindingRequest emits a conformant 20-byte RFC 5389 header: type
// 0x0001, zero-length body, the real magic cookie, and a random
// transaction id (spec.md §9 "Open question — STUN header" recommends
// this over the simplified zero-valued header, since both encode the
// same XOR-MAPPED-ADDRESS response in practice and a real magic cookie
// is strictly more compatible).
func buildBindingRequest() []byte {
	req := make([]byte, 20)
	binary.BigEndian.PutUint16(req[0:2], bindingRequestType)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], magicCookie)
	_, _ = rand.Read(req[8:20])
	return req
}

// parseBindingResponse extracts the XOR-MAPPED-ADDRESS attribute at the
// fixed byte offset 28 documented in spec.md §4.1/§6: two bytes of port
// XOR 0x2112, then four bytes of IPv4 address each XOR 0x21. IPv6 is out
// of scope.
func parseBindingResponse(resp []byte) (Binding, error) {
	if len(resp) < 20 {
		return Binding{}, fmt.Errorf("stun: response too short (%d bytes)", len(resp))
	}
	if len(resp) < 34 {
		// Accept the simplified fixed-offset parse whenever the
		// attribute is present at all, but 28+2(port)+4(ip)=34 bytes is
		// the minimum for a well-formed XOR-MAPPED-ADDRESS.
		return Binding{}, fmt.Errorf("stun: response too short for XOR-MAPPED-ADDRESS (%d bytes)", len(resp))
	}

	port := binary.BigEndian.Uint16(resp[28:30]) ^ 0x2112
	var ipBytes [4]byte
	for i := 0; i < 4; i++ {
		ipBytes[i] = resp[30+i] ^ 0x21
	}
	ip := net.IPv4(ipBytes[0], ipBytes[1], ipBytes[2], ipBytes[3]).String()
	return Binding{IP: ip, Port: int(port)}, nil
}

func (c *Client) httpFallback() (string, error) {
	resp, err := c.httpClient.Get(c.fallbackURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fallback endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("fallback endpoint returned non-IP body %q", ip)
	}
	return ip, nil
}
