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

// Package scheduler runs the two fixed-interval ticker loops that drive
// the durable job queue outside of direct API requests: auto-stop and
// migration. Each tick does the minimum work to
// enqueue jobs; the handlers in pkg/jobs do the actual state mutation.
package scheduler

import (
	"context"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/google/uuid"
)

// AutoStop ticks on a fixed interval and enqueues a single
// auto-stop-check job per tick; the handler owns all the
// actual idle-detection and stop logic.
type AutoStop struct {
	queue       queue.Backend
	interval    time.Duration
	maxAttempts int
}

// NewAutoStop builds an AutoStop scheduler.
func NewAutoStop(backend queue.Backend, interval time.Duration, maxAttempts int) *AutoStop {
	return &AutoStop{queue: backend, interval: interval, maxAttempts: maxAttempts}
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (a *AutoStop) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	log.Info("Starting auto-stop scheduler", "interval", a.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("Auto-stop scheduler stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				log.Warn("Failed to enqueue auto-stop-check job", "error", err)
			}
		}
	}
}

// TriggerNow runs one sweep immediately, independent of the ticker, for
// the manual POST /api/instances/auto-stop/trigger endpoint.
func (a *AutoStop) TriggerNow(ctx context.Context) error {
	return a.tick(ctx)
}

func (a *AutoStop) tick(ctx context.Context) error {
	job := &queue.Job{
		ID:          uuid.NewString(),
		Type:        queue.TypeAutoStopCheck,
		Priority:    queue.PriorityNormal,
		Payload:     map[string]any{},
		MaxAttempts: a.maxAttempts,
		CreatedAt:   time.Now(),
	}
	return a.queue.Enqueue(ctx, job)
}
