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
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// SkipEnvSubstitution disables ${VAR} substitution.
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation.
	SkipValidation bool
	// SkipDotenv disables loading a local .env file before resolving
	// environment variables.
	SkipDotenv bool
}

// DefaultLoaderOptions returns the default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
	}
}

// Load loads configuration with automatic environment detection. It tries,
// in order, "<env>.yaml", "default.yaml", then "config.yaml" under
// ConfigDir, falling back to an empty config with defaults applied if none
// exist.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if !options.SkipDotenv {
		_ = godotenv.Load()
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, env+".yaml"))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if issues := Validate(cfg); len(issues) > 0 {
			return nil, fmt.Errorf("configuration validation failed: %s", issues[0])
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides applies the highest-priority WHISP_* environment
// variables on top of whatever the config file and ${VAR} substitution
// produced.
func applyEnvironmentOverrides(cfg *Config) {
	if userID := os.Getenv("WHISP_USER_ID"); userID != "" {
		cfg.Self.UserID = userID
	}
	if listenAddr := os.Getenv("WHISP_LISTEN_ADDR"); listenAddr != "" {
		cfg.Self.ListenAddr = listenAddr
	}

	if bootstrapURL := os.Getenv("WHISP_BOOTSTRAP_URL"); bootstrapURL != "" {
		cfg.Bootstrap.URL = bootstrapURL
	}
	if feedURL := os.Getenv("WHISP_BOOTSTRAP_FEED_URL"); feedURL != "" {
		cfg.Bootstrap.FeedURL = feedURL
	}

	if dsn := os.Getenv("WHISP_AUDIT_DSN"); dsn != "" {
		cfg.Audit.DSN = dsn
	}

	if metricsAddr := os.Getenv("WHISP_METRICS_LISTEN_ADDR"); metricsAddr != "" {
		cfg.Metrics.ListenAddr = metricsAddr
	}

	if logLevel := os.Getenv("WHISP_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	switch os.Getenv("WHISP_SIGN_PRESENCE") {
	case "true":
		cfg.Security.SignPresence = true
	case "false":
		cfg.Security.SignPresence = false
	}
}

// LoadForEnvironment loads configuration for a specific named environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error. Intended for cmd/whisp's
// process entrypoint, where a bad config should abort startup immediately.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
