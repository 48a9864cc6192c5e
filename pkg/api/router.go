// instanceplane
// (C) 2024, Deutsche Telekom IT GmbH
//
// Deutsche Telekom IT GmbH and all other contributors /
// copyright owners license this file to you under the Apache
// License, Version 2.0 (the "License"); you may not use this
// file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/jobs"
	"github.com/caas-team/instanceplane/pkg/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Server is the HTTP surface of the control plane: instance lifecycle,
// auto-stop/migration introspection and manual triggers, health, metrics,
// and the generated OpenAPI document.
type Server struct {
	httpServer *http.Server
	router     chi.Router

	deps      *jobs.Deps
	autoStop  *scheduler.AutoStop
	migration *scheduler.Migration
	registry  *prometheus.Registry
}

// New builds a Server wired to deps and the (optional, nil if disabled)
// schedulers, and registers every route.
func New(deps *jobs.Deps, autoStop *scheduler.AutoStop, migration *scheduler.Migration, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:              deps.Config.Api.ListeningAddress,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		router:    r,
		deps:      deps,
		autoStop:  autoStop,
		migration: migration,
		registry:  registry,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(correlationMiddleware)
	s.router.Use(recoverMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/openapi", s.handleOpenAPI)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	s.router.Route("/api/instances", func(r chi.Router) {
		r.Post("/", s.handleCreateInstance)
		r.Get("/", s.handleListInstances)
		r.Get("/comprehensive", s.handleComprehensiveListing)
		r.Post("/start", s.handleStartInstanceByName)
		r.Post("/stop", s.handleStopInstanceByName)
		r.Get("/auto-stop/stats", s.handleAutoStopStats)
		r.Post("/auto-stop/trigger", s.handleAutoStopTrigger)
		r.Get("/{id}", s.handleGetInstance)
		r.Post("/{id}/start", s.handleStartInstanceByID)
		r.Post("/{id}/stop", s.handleStopInstanceByID)
		r.Put("/{id}/last-used", s.handleTouchLastUsed)
	})

	s.router.Route("/api/migration", func(r chi.Router) {
		r.Get("/status", s.handleMigrationStatus)
		r.Post("/trigger", s.handleMigrationTrigger)
		r.Get("/history", s.handleMigrationHistory)
	})
}

// handleHealth reports liveness; used by the provider-facing /health probe
// and by operators, not tied to any instance's own health-check engine.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves the API. Blocks until ctx is done or the server fails.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	cErr := make(chan error, 1)

	go func() {
		defer close(cErr)
		log.Info("Serving API", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil {
			cErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed serving API: %w", ctx.Err())
	case err := <-cErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return nil
		}
		log.Error("failed serving API", "error", err)
		return fmt.Errorf("failed serving API: %w", err)
	}
}

// Shutdown gracefully stops the API server, bounded by shutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	errC := ctx.Err()
	log := logger.FromContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown API server", "error", err)
		return fmt.Errorf("failed shutting down API: %w", errors.Join(errC, err))
	}
	return errC
}
