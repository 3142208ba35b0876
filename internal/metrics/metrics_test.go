// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndServe(t *testing.T) {
	m := New()

	m.PeersActive.Set(3)
	m.MessagesSent.Add(2)
	m.StunDiscoveries.WithLabelValues("success").Inc()
	m.BootstrapRegistrations.WithLabelValues("error").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "whisp_peers_active 3")
	assert.Contains(t, body, `whisp_stun_discoveries_total{outcome="success"} 1`)
	assert.Contains(t, body, `whisp_bootstrap_registrations_total{outcome="error"} 1`)
}

func TestNewRegistersIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.PeersActive.Set(1)
	b.PeersActive.Set(9)

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	assert.Contains(t, recA.Body.String(), "whisp_peers_active 1")
	assert.NotContains(t, recA.Body.String(), "whisp_peers_active 9")
}
