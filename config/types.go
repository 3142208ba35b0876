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

// Package config loads and validates the whisp node's runtime configuration.
package config

import "time"

// Config is the root configuration for a whisp node.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Self        *SelfConfig      `yaml:"self" json:"self"`
	Stun        *StunConfig      `yaml:"stun" json:"stun"`
	Bootstrap   *BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`
	Session     *SessionConfig   `yaml:"session" json:"session"`
	Security    *SecurityConfig  `yaml:"security" json:"security"`
	Audit       *AuditConfig     `yaml:"audit" json:"audit"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig    `yaml:"health" json:"health"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
}

// SelfConfig describes the local node's identity and UDP listener.
type SelfConfig struct {
	UserID     string `yaml:"user_id" json:"user_id"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	ListenPort int    `yaml:"listen_port" json:"listen_port"`
}

// StunConfig lists the STUN servers consulted for NAT discovery, plus the
// HTTPS IP-echo fallback used when no server answers.
type StunConfig struct {
	Servers       []string      `yaml:"servers" json:"servers"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	FallbackURL   string        `yaml:"fallback_url" json:"fallback_url"`
	RediscoverTTL time.Duration `yaml:"rediscover_ttl" json:"rediscover_ttl"`
}

// BootstrapConfig describes the rendezvous server used for peer discovery.
type BootstrapConfig struct {
	URL              string        `yaml:"url" json:"url"`
	FeedURL          string        `yaml:"feed_url" json:"feed_url"`
	RegisterInterval time.Duration `yaml:"register_interval" json:"register_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// SessionConfig tunes the Presence & Keepalive Engine and Peer Table
// liveness sweep cadences.
type SessionConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PeerTTL       time.Duration `yaml:"peer_ttl" json:"peer_ttl"`
	EvictInterval time.Duration `yaml:"evict_interval" json:"evict_interval"`
	ReceiptWait   time.Duration `yaml:"receipt_wait" json:"receipt_wait"`
}

// SecurityConfig controls the optional identity-signing hardening.
type SecurityConfig struct {
	SignPresence bool   `yaml:"sign_presence" json:"sign_presence"`
	SeedFile     string `yaml:"seed_file" json:"seed_file"`
}

// AuditConfig configures the optional Postgres delivery-event sink. An empty
// DSN disables the sink entirely (audit.NoopSink is used instead).
type AuditConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// MetricsConfig controls the optional Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
}

// HealthConfig controls the optional liveness/readiness HTTP endpoint.
type HealthConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
}

// LoggingConfig controls the internal/logger default logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Output string `yaml:"output" json:"output"`
}
