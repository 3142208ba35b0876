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

// Package audit is the optional delivery-event sink (SPEC_FULL.md
// §4.12). A node never reads its own audit trail back: it is a
// fire-and-forget record of sent/delivered/failed events for external
// observability, not part of message delivery itself. The default Sink
// is a no-op; PostgresSink is wired in when Config.Audit.DSN is set.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/whisp-net/whisp/internal/logger"
)

// Kind classifies an audit event.
type Kind string

const (
	KindSent      Kind = "sent"
	KindDelivered Kind = "delivered"
	KindFailed    Kind = "failed"
)

// Event is one delivery-lifecycle record.
type Event struct {
	Kind      Kind
	PeerID    string
	MessageID string
	At        time.Time
}

// Sink records delivery events. Implementations must not block message
// delivery on failure: errors are for logging, not retried.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close()
}

// NoopSink discards every event. It is the default when no audit
// backend is configured.
type NoopSink struct{}

func (NoopSink) Record(ctx context.Context, event Event) error { return nil }
func (NoopSink) Close()                                         {}

// PostgresSink persists events to a delivery_events table, grounded on
// the teacher's pgxpool-backed storage layer. Schema:
//
//	CREATE TABLE delivery_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    kind        TEXT NOT NULL,
//	    peer_id     TEXT NOT NULL,
//	    message_id  TEXT NOT NULL,
//	    at          TIMESTAMPTZ NOT NULL
//	);
type PostgresSink struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgresSink opens a connection pool against dsn and verifies it
// with a ping before returning.
func NewPostgresSink(ctx context.Context, dsn string, log logger.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return &PostgresSink{pool: pool, log: log}, nil
}

// Record inserts a single event row. Per SPEC_FULL.md §4.12 this sink is
// fire-and-forget: callers log a failed Record but never retry or block
// on it.
func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO delivery_events (kind, peer_id, message_id, at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, string(event.Kind), event.PeerID, event.MessageID, event.At); err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// RecordAsync calls sink.Record in its own goroutine with a bounded
// timeout, logging failures instead of propagating them. This is how
// supervisor.Node records sent and delivered events, so a slow or
// unreachable audit database never stalls message delivery.
func RecordAsync(sink Sink, log logger.Logger, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Record(ctx, event); err != nil {
			log.Warn("audit: record failed", logger.String("kind", string(event.Kind)), logger.Error(err))
		}
	}()
}
