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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisp-net/whisp/config"
	"github.com/whisp-net/whisp/internal/logger"
	"github.com/whisp-net/whisp/supervisor"
)

var startConfigDir string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a whisp node",
	Long: `Loads configuration, performs STUN discovery and bootstrap
registration, then runs the node until interrupted (SIGINT/SIGTERM),
announcing presence(offline) to every known peer before exiting.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&startConfigDir, "config", "config", "directory containing <env>.yaml / default.yaml")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: startConfigDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewDefaultLogger()
	if cfg.Logging != nil && cfg.Logging.Level != "" {
		applyLogLevel(log, cfg.Logging.Level)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := supervisor.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	node.SetMessageHandler(func(from, content string) {
		log.Info("message received", logger.String("from", from))
	})

	if cfg.Metrics != nil && cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr, cfg.Metrics.Path, node, log)
	}

	log.Info("whisp node starting",
		logger.String("user_id", node.Self().UserID),
		logger.String("username", node.Self().Username))

	runErr := node.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := node.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logger.Error(err))
	}

	return runErr
}

func serveMetrics(addr, path string, node *supervisor.Node, log logger.Logger) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, node.Metrics().Handler())
	log.Info("metrics server starting", logger.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server stopped", logger.Error(err))
	}
}

func applyLogLevel(log logger.Logger, level string) {
	switch level {
	case "debug":
		log.SetLevel(logger.DebugLevel)
	case "info":
		log.SetLevel(logger.InfoLevel)
	case "warn":
		log.SetLevel(logger.WarnLevel)
	case "error":
		log.SetLevel(logger.ErrorLevel)
	}
}
