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

// Package controlplane is the composition root: it wires config into the
// provider client, instance store, job queue/worker pool, schedulers and
// HTTP API, and owns their combined lifecycle, one goroutine per
// long-running subsystem.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/api"
	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/jobs"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/scheduler"
	"github.com/caas-team/instanceplane/pkg/startup"
	"github.com/caas-team/instanceplane/pkg/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ControlPlane owns every long-running component of the service.
type ControlPlane struct {
	cfg *config.Config

	store    *instance.Store
	queue    queue.Backend
	provider *provider.Client
	webhooks *webhook.Dispatcher
	startup  *startup.Manager

	pool      *jobs.Pool
	autoStop  *scheduler.AutoStop
	migration *scheduler.Migration

	registry *prometheus.Registry
	server   *api.Server
}

// New wires every component from cfg: one struct literal assembling every
// collaborator, schedulers left nil when their config disables them so
// Run/Shutdown simply skip them.
func New(cfg *config.Config) *ControlPlane {
	store := instance.NewStore(256)
	backend := queue.NewInMemory(cfg.Jobs.BackoffBase, cfg.Jobs.BackoffMax)
	providerClient := provider.NewClient(cfg.Provider, cfg.Cache)
	webhooks := webhook.NewDispatcher(cfg.Webhook.Timeout, cfg.Webhook.MaxRetries, cfg.Webhook.Secret)
	startupMgr := startup.NewManager()

	deps := &jobs.Deps{
		Provider: providerClient,
		Store:    store,
		Queue:    backend,
		Webhooks: webhooks,
		Startup:  startupMgr,
		Config:   cfg,
	}
	pool := jobs.NewPool(backend, jobs.NewRegistry(deps), cfg.Jobs.Concurrency, cfg.Jobs.ProcessingTO)

	var autoStop *scheduler.AutoStop
	if cfg.AutoStop.Enabled {
		autoStop = scheduler.NewAutoStop(backend, cfg.AutoStop.IntervalMinutes, cfg.Jobs.MaxAttempts)
	}

	var migration *scheduler.Migration
	if cfg.Migration.Enabled {
		migration = scheduler.NewMigration(providerClient, store, backend, cfg.Migration.IntervalMinutes,
			cfg.Migration.MaxConcurrent, cfg.Migration.DryRun, cfg.Jobs.MaxAttempts)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := api.New(deps, autoStop, migration, registry)

	return &ControlPlane{
		cfg:       cfg,
		store:     store,
		queue:     backend,
		provider:  providerClient,
		webhooks:  webhooks,
		startup:   startupMgr,
		pool:      pool,
		autoStop:  autoStop,
		migration: migration,
		registry:  registry,
		server:    server,
	}
}

// Run starts every component and blocks until ctx is done: one goroutine
// per long-running component, the main goroutine just waits on ctx and
// shuts down on cancellation.
func (c *ControlPlane) Run(ctx context.Context) error {
	ctx, cancel := logger.NewContextWithLogger(ctx)
	log := logger.FromContext(ctx)
	defer cancel()

	go func() {
		if err := c.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "job worker pool stopped", "error", err)
		}
	}()

	go c.logInstanceTransitions(ctx)

	if c.autoStop != nil {
		go func() {
			if err := c.autoStop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorContext(ctx, "auto-stop scheduler stopped", "error", err)
			}
		}()
	}

	if c.migration != nil {
		go func() {
			if err := c.migration.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorContext(ctx, "migration scheduler stopped", "error", err)
			}
		}()
	}

	cErr := make(chan error, 1)
	go func() {
		cErr <- c.server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return c.shutdown(ctx)
	case err := <-cErr:
		return err
	}
}

// logInstanceTransitions drains the store's change-event stream for as long
// as ctx is live, logging every status transition. It is the one consumer
// of instance.Store.Changes(): if it ever falls behind, the store drops
// events rather than blocking a mutation, so this is observability only,
// never a source of truth.
func (c *ControlPlane) logInstanceTransitions(ctx context.Context) {
	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.store.Changes():
			log.InfoContext(ctx, "instance status changed",
				"instanceId", ev.ID, "from", ev.Before, "to", ev.After)
		}
	}
}

// shutdown gracefully stops the API server, bounded by shutdownTimeout; the
// worker pool and schedulers stop on their own ctx cancellation.
func (c *ControlPlane) shutdown(ctx context.Context) error {
	errC := ctx.Err()
	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down control plane: %w", errors.Join(errC, err))
	}
	return errC
}
