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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "whisp.yaml")

	content := `environment: staging
self:
  user_id: alice
  listen_port: 5555
stun:
  servers:
    - stun.example.com:3478
bootstrap:
  url: https://rendezvous.example.com/register
security:
  sign_presence: true
  seed_file: /etc/whisp/seed
logging:
  level: debug`

	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "alice", cfg.Self.UserID)
	assert.Equal(t, 5555, cfg.Self.ListenPort)
	assert.Equal(t, []string{"stun.example.com:3478"}, cfg.Stun.Servers)
	assert.Equal(t, "https://rendezvous.example.com/register", cfg.Bootstrap.URL)
	assert.True(t, cfg.Security.SignPresence)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults still populate whatever the file left unset.
	assert.Equal(t, 10*time.Second, cfg.Bootstrap.RequestTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/whisp.yaml")
	assert.Error(t, err)
}

func TestSetDefaultsFillsEmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 42424, cfg.Self.ListenPort)
	assert.NotEmpty(t, cfg.Stun.Servers)
	assert.Equal(t, 30*time.Second, cfg.Session.PingInterval)
	assert.Equal(t, 5*time.Minute, cfg.Session.PeerTTL)
	assert.False(t, cfg.Security.SignPresence)
	assert.Equal(t, "", cfg.Audit.DSN)
}

func TestSetDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{
		Self: &SelfConfig{ListenPort: 9000},
		Session: &SessionConfig{
			PingInterval: time.Minute,
		},
	}
	setDefaults(cfg)

	assert.Equal(t, 9000, cfg.Self.ListenPort)
	assert.Equal(t, time.Minute, cfg.Session.PingInterval)
	// Untouched fields still get defaults.
	assert.Equal(t, 5*time.Minute, cfg.Session.PeerTTL)
}
