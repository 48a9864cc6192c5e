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

package jobs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/queue"
)

// leaseIdleBackoff spaces Lease polls when the queue has no ready work, so
// idle workers don't spin.
const leaseIdleBackoff = 250 * time.Millisecond

// Pool is a fixed-size worker pool leasing jobs from a queue.Backend and
// dispatching them by Type: N goroutines sharing one lease loop instead of
// one goroutine per unit of work.
type Pool struct {
	backend           queue.Backend
	handlers          map[queue.Type]Handler
	concurrency       int
	processingTimeout time.Duration
	promoteInterval   time.Duration
}

// NewPool builds a Pool. Crash recovery runs implicitly: Promote moves
// stale processing entries back to pending before the first lease.
func NewPool(backend queue.Backend, handlers map[queue.Type]Handler, concurrency int, processingTimeout time.Duration) *Pool {
	return &Pool{
		backend:           backend,
		handlers:          handlers,
		concurrency:       concurrency,
		processingTimeout: processingTimeout,
		promoteInterval:   30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, running concurrency worker goroutines
// plus one promote-sweep goroutine.
func (p *Pool) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if err := p.backend.Promote(ctx, p.processingTimeout); err != nil {
		log.ErrorContext(ctx, "initial stale-job recovery sweep failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runPromoteLoop(ctx)
	}()

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		workerID := workerName(i)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (p *Pool) runPromoteLoop(ctx context.Context) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(p.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.backend.Promote(ctx, p.processingTimeout); err != nil {
				log.ErrorContext(ctx, "promote sweep failed", "error", err)
			}
		}
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := logger.FromContext(ctx).With("worker", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.backend.Lease(ctx, workerID)
		if err != nil {
			log.ErrorContext(ctx, "lease failed", "error", err)
			sleepOrDone(ctx, leaseIdleBackoff)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, leaseIdleBackoff)
			continue
		}

		p.dispatch(ctx, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *queue.Job) {
	log := logger.FromContext(ctx).With("jobId", job.ID, "jobType", job.Type)

	handler, ok := p.handlers[job.Type]
	if !ok {
		log.ErrorContext(ctx, "no handler registered for job type")
		_ = p.backend.Fail(ctx, job.ID, fmt.Errorf("no handler registered for job type %q", job.Type))
		return
	}

	if err := handler(ctx, job); err != nil {
		log.WarnContext(ctx, "job handler returned an error", "error", err)
		if failErr := p.backend.Fail(ctx, job.ID, err); failErr != nil {
			log.ErrorContext(ctx, "failed to record job failure", "error", failErr)
		}
		return
	}

	if err := p.backend.Complete(ctx, job.ID); err != nil {
		log.ErrorContext(ctx, "failed to mark job complete", "error", err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func workerName(i int) string {
	return "worker-" + strconv.Itoa(i)
}
