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

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/whisp-net/whisp/internal/logger"
)

// Server exposes a Checker over HTTP for container orchestrators.
type Server struct {
	checker  *Checker
	logger   logger.Logger
	addr     string
	path     string
	httpSrv  *http.Server
}

// NewServer creates a health HTTP server listening on addr, serving path
// (and "<path>/live", "<path>/ready").
func NewServer(checker *Checker, log logger.Logger, addr, path string) *Server {
	if path == "" {
		path = "/healthz"
	}
	return &Server{checker: checker, logger: log, addr: addr, path: path}
}

// Start begins serving in the background. It returns once the listener is
// registered; ListenAndServe errors are logged asynchronously.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleHealth)
	mux.HandleFunc(s.path+"/live", s.handleLiveness)
	mux.HandleFunc(s.path+"/ready", s.handleReadiness)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting health server", logger.String("addr", s.addr))

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server stopped", logger.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checker.GetSystemHealth(r.Context())

	switch health.Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleLiveness answers unconditionally: the process is up and serving.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadiness runs every registered check; the node is ready only once
// all of them pass (socket bound, bootstrap reachable, peer table alive).
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	health := s.checker.GetSystemHealth(r.Context())
	ready := health.Status == StatusHealthy

	response := map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    health.Checks,
	}

	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
