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

// Package feed is the optional bootstrap push feed (SPEC_FULL.md §4.13):
// a WebSocket listener that supplements periodic bootstrap polling with
// pushed peer-list deltas, in the same JSON shape as a bootstrap POST
// response. If the feed drops, Watcher reconnects with capped backoff;
// periodic polling continues regardless.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/whisp-net/whisp/bootstrap"
	"github.com/whisp-net/whisp/internal/logger"
)

type pushFrame struct {
	Peers []bootstrap.PeerDescriptor `json:"peers"`
}

// Watcher maintains a reconnecting WebSocket connection to url, calling
// onPeers with each decoded peer-list delta.
type Watcher struct {
	url     string
	onPeers func([]bootstrap.PeerDescriptor)
	log     logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// New builds a Watcher. onPeers is invoked from the Watcher's own
// goroutine (Run); callers that mutate shared state must synchronize.
func New(url string, onPeers func([]bootstrap.PeerDescriptor), log logger.Logger) *Watcher {
	return &Watcher{
		url:        url,
		onPeers:    onPeers,
		log:        log,
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run connects and reconnects until ctx is canceled. Each dropped
// connection triggers a reconnect with exponential backoff capped at
// maxBackoff.
func (w *Watcher) Run(ctx context.Context) {
	backoff := w.minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connectAndRead(ctx); err != nil {
			w.log.Warn("bootstrap feed disconnected", logger.Error(err), logger.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
	}
}

func (w *Watcher) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	w.log.Info("bootstrap feed connected", logger.String("url", w.url))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var frame pushFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			w.log.Debug("feed: dropped malformed frame", logger.Error(err))
			continue
		}
		if w.onPeers != nil {
			w.onPeers(frame.Peers)
		}
	}
}
