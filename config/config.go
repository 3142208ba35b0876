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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a whisp config from path, accepting YAML (tried first)
// or JSON, and applies defaults for any zero-valued field.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// setDefaults fills in the operational defaults a whisp node needs to run
// with no config file at all.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Self == nil {
		cfg.Self = &SelfConfig{}
	}
	if cfg.Self.ListenPort == 0 {
		cfg.Self.ListenPort = 42424
	}
	if cfg.Self.ListenAddr == "" {
		cfg.Self.ListenAddr = "0.0.0.0"
	}

	if cfg.Stun == nil {
		cfg.Stun = &StunConfig{}
	}
	if len(cfg.Stun.Servers) == 0 {
		cfg.Stun.Servers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}
	}
	if cfg.Stun.Timeout == 0 {
		cfg.Stun.Timeout = 3 * time.Second
	}
	if cfg.Stun.FallbackURL == "" {
		cfg.Stun.FallbackURL = "https://api.ipify.org"
	}
	if cfg.Stun.RediscoverTTL == 0 {
		cfg.Stun.RediscoverTTL = 5 * time.Minute
	}

	if cfg.Bootstrap == nil {
		cfg.Bootstrap = &BootstrapConfig{}
	}
	if cfg.Bootstrap.RegisterInterval == 0 {
		cfg.Bootstrap.RegisterInterval = 5 * time.Minute
	}
	if cfg.Bootstrap.RequestTimeout == 0 {
		cfg.Bootstrap.RequestTimeout = 10 * time.Second
	}

	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	if cfg.Session.PingInterval == 0 {
		cfg.Session.PingInterval = 30 * time.Second
	}
	if cfg.Session.PeerTTL == 0 {
		cfg.Session.PeerTTL = 5 * time.Minute
	}
	if cfg.Session.EvictInterval == 0 {
		cfg.Session.EvictInterval = 30 * time.Second
	}
	if cfg.Session.ReceiptWait == 0 {
		cfg.Session.ReceiptWait = 10 * time.Second
	}

	if cfg.Security == nil {
		cfg.Security = &SecurityConfig{}
	}

	if cfg.Audit == nil {
		cfg.Audit = &AuditConfig{}
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
