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

import "fmt"

// Issue describes a single configuration problem found by Validate.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Validate checks a fully defaulted Config for values that would prevent the
// node from starting, returning every issue found. An empty slice means the
// config is usable.
func Validate(cfg *Config) []Issue {
	var issues []Issue

	if cfg.Self == nil || cfg.Self.ListenPort <= 0 || cfg.Self.ListenPort > 65535 {
		issues = append(issues, Issue{"self.listen_port", "must be between 1 and 65535"})
	}

	if cfg.Stun == nil || len(cfg.Stun.Servers) == 0 {
		issues = append(issues, Issue{"stun.servers", "at least one STUN server is required"})
	}
	if cfg.Stun != nil && cfg.Stun.Timeout <= 0 {
		issues = append(issues, Issue{"stun.timeout", "must be positive"})
	}

	if cfg.Session != nil {
		if cfg.Session.PingInterval <= 0 {
			issues = append(issues, Issue{"session.ping_interval", "must be positive"})
		}
		if cfg.Session.PeerTTL <= cfg.Session.PingInterval {
			issues = append(issues, Issue{"session.peer_ttl", "must exceed ping_interval or peers will be evicted between keepalives"})
		}
	}

	if cfg.Security != nil && cfg.Security.SignPresence && cfg.Security.SeedFile == "" {
		issues = append(issues, Issue{"security.seed_file", "required when sign_presence is enabled"})
	}

	switch {
	case cfg.Logging == nil:
		issues = append(issues, Issue{"logging", "must be set"})
	default:
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, Issue{"logging.level", "must be one of debug, info, warn, error"})
		}
	}

	return issues
}
