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

// Package bootstrap is the Bootstrap Client (spec.md §4.2/§6): it POSTs
// a self-descriptor to one or more rendezvous URLs and ingests the
// returned peer list. It is stateless between calls.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/whisp-net/whisp/internal/logger"
)

// SelfDescriptor is what gets POSTed to every configured URL.
type SelfDescriptor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	PubKey   string `json:"pubkey"`
}

// PeerDescriptor is one entry of a bootstrap response's peer list.
type PeerDescriptor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	PubKey   string `json:"pubkey"`
}

type registerResponse struct {
	Peers []PeerDescriptor `json:"peers"`
}

// Client registers with a fixed list of rendezvous URLs.
type Client struct {
	urls       []string
	httpClient *http.Client
	log        logger.Logger
	authToken  string
}

// New builds a Client over urls, each consulted independently on every
// Register call (spec.md §4.2: "Any non-200 or transport error for a
// given URL is logged and does not abort the other URLs").
func New(urls []string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		urls:       urls,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// WithAuthToken signs a short-lived JWT bearer token (HS256, over a
// shared secret operators configure out-of-band) and attaches it as an
// Authorization header on every subsequent Register call. This is an
// additive convenience for rendezvous deployments that require
// authenticated registration; the unauthenticated path (no token) is
// the default and matches spec.md §4.2 exactly.
func (c *Client) WithAuthToken(secret []byte, subject string, ttl time.Duration) (*Client, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sign auth token: %w", err)
	}
	c.authToken = signed
	return c, nil
}

// Register POSTs self to every configured URL and merges the returned
// peer lists, filtering out self.
func (c *Client) Register(ctx context.Context, self SelfDescriptor) []PeerDescriptor {
	body, err := json.Marshal(self)
	if err != nil {
		c.log.Error("bootstrap: marshal self descriptor", logger.Error(err))
		return nil
	}

	var peers []PeerDescriptor
	for _, url := range c.urls {
		got, err := c.registerOne(ctx, url, body)
		if err != nil {
			c.log.Warn("bootstrap registration failed", logger.String("url", url), logger.Error(err))
			continue
		}
		for _, p := range got {
			if p.UserID == self.UserID {
				continue
			}
			peers = append(peers, p)
		}
	}
	return peers
}

// Ping probes every configured rendezvous URL with a lightweight
// unauthenticated HEAD request, returning nil as soon as one responds,
// or the last error seen if none do. Used by pkg/health's
// BootstrapHealthCheck to back the "bootstrap" liveness check.
func (c *Client) Ping(ctx context.Context) error {
	if len(c.urls) == 0 {
		return fmt.Errorf("bootstrap: no rendezvous urls configured")
	}

	var lastErr error
	for _, url := range c.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		return nil
	}
	return fmt.Errorf("bootstrap: no rendezvous url reachable: %w", lastErr)
}

func (c *Client) registerOne(ctx context.Context, url string, body []byte) ([]PeerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Peers, nil
}
