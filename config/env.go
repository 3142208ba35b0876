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
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values, falling back to the default when the variable is unset
// or empty.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig walks every string field that plausibly carries
// an endpoint, URL, or path and substitutes ${VAR} references in place.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Self != nil {
		cfg.Self.UserID = SubstituteEnvVars(cfg.Self.UserID)
		cfg.Self.ListenAddr = SubstituteEnvVars(cfg.Self.ListenAddr)
	}

	if cfg.Stun != nil {
		for i, server := range cfg.Stun.Servers {
			cfg.Stun.Servers[i] = SubstituteEnvVars(server)
		}
		cfg.Stun.FallbackURL = SubstituteEnvVars(cfg.Stun.FallbackURL)
	}

	if cfg.Bootstrap != nil {
		cfg.Bootstrap.URL = SubstituteEnvVars(cfg.Bootstrap.URL)
		cfg.Bootstrap.FeedURL = SubstituteEnvVars(cfg.Bootstrap.FeedURL)
	}

	if cfg.Security != nil {
		cfg.Security.SeedFile = SubstituteEnvVars(cfg.Security.SeedFile)
	}

	if cfg.Audit != nil {
		cfg.Audit.DSN = SubstituteEnvVars(cfg.Audit.DSN)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.ListenAddr = SubstituteEnvVars(cfg.Metrics.ListenAddr)
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}

	if cfg.Health != nil {
		cfg.Health.ListenAddr = SubstituteEnvVars(cfg.Health.ListenAddr)
		cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}
}

// GetEnvironment returns the current environment from WHISP_ENV or
// ENVIRONMENT, defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("WHISP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
