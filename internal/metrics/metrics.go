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

// Package metrics exposes the Prometheus instrumentation for a whisp node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whisp"

// Metrics bundles every gauge/counter recorded by the node's components.
// A zero-value Metrics is never used directly; construct one with New so
// every series registers against a private registry instead of the global
// default, keeping tests free of cross-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	PeersActive        prometheus.Gauge
	SessionsActive      prometheus.Gauge
	MessagesSent        prometheus.Counter
	MessagesDelivered   prometheus.Counter
	PendingMessages     prometheus.Gauge
	StunDiscoveries     *prometheus.CounterVec
	BootstrapRegistrations *prometheus.CounterVec
}

// New creates a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PeersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_active",
			Help:      "Number of peers currently present in the peer table.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of cached crypto sessions.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages handed to the wire layer for sending.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages whose receipt was observed.",
		}),
		PendingMessages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Number of sent messages still awaiting a receipt.",
		}),
		StunDiscoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stun_discoveries_total",
			Help:      "Total number of STUN discovery attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		BootstrapRegistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_registrations_total",
			Help:      "Total number of bootstrap registration attempts, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the promhttp handler serving this bundle's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Noop returns a Metrics bundle that records into an unreachable registry,
// for components run in tests or CLI subcommands that never serve /metrics.
func Noop() *Metrics {
	return New()
}
