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

package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
)

// SweepStarted is called once, before the first sweep, so callers can emit
// the health_checking webhook with a pending endpoint list.
type SweepStarted func(endpoints []Endpoint)

// Engine runs health-check sweeps against an instance's declared
// endpoints until they're collectively healthy or the deadline elapses.
type Engine struct {
	cfg Config
}

// NewEngine builds an Engine bound to cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run sweeps endpoints repeatedly until VerdictHealthy, VerdictTimeout, or
// ctx cancellation (VerdictCancelled).
func (e *Engine) Run(ctx context.Context, endpoints []Endpoint, onSweepStart SweepStarted) Result {
	targets := endpoints
	if e.cfg.TargetPort != 0 {
		targets = filterByPort(endpoints, e.cfg.TargetPort)
	}

	deadline := time.Now().Add(e.cfg.MaxWaitTime)
	first := true
	var lastAttempts []Attempt

	for {
		if first && onSweepStart != nil {
			onSweepStart(targets)
			first = false
		}

		select {
		case <-ctx.Done():
			return Result{Verdict: VerdictCancelled, Aggregate: aggregateOf(lastAttempts), Attempts: lastAttempts}
		default:
		}

		lastAttempts = e.sweep(ctx, targets)
		agg := aggregateOf(lastAttempts)
		if agg == AggregateHealthy {
			return Result{Verdict: VerdictHealthy, Aggregate: agg, Attempts: lastAttempts}
		}

		if time.Now().After(deadline) {
			return Result{Verdict: VerdictTimeout, Aggregate: agg, Attempts: lastAttempts}
		}

		select {
		case <-ctx.Done():
			return Result{Verdict: VerdictCancelled, Aggregate: agg, Attempts: lastAttempts}
		case <-time.After(e.cfg.RetryDelay):
		}
	}
}

// sweep probes every endpoint concurrently, each with its own
// per-endpoint retry loop: one goroutine per endpoint, fanned in through a
// sync.WaitGroup into a mutex-guarded results slice.
func (e *Engine) sweep(ctx context.Context, endpoints []Endpoint) []Attempt {
	log := logger.FromContext(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup
	attempts := make([]Attempt, len(endpoints))

	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			a := e.probeWithRetry(ctx, ep)
			mu.Lock()
			attempts[i] = a
			mu.Unlock()
		}(i, ep)
	}

	log.DebugContext(ctx, "waiting for health-check sweep to finish", "endpoints", len(endpoints))
	wg.Wait()
	return attempts
}

func (e *Engine) probeWithRetry(ctx context.Context, ep Endpoint) Attempt {
	p := proberFor(ep.Transport)
	var lastErr error

	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		start := time.Now()
		err := p.Probe(ctx, ep, e.cfg.TimeoutPerCheck)
		elapsed := time.Since(start)

		if err == nil {
			return Attempt{
				Port: ep.Port, URL: ep.URL(), Transport: ep.Transport,
				Status: AttemptHealthy, LastChecked: time.Now(), ResponseTime: elapsed,
			}
		}
		lastErr = err

		if attempt < e.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return Attempt{
					Port: ep.Port, URL: ep.URL(), Transport: ep.Transport,
					Status: AttemptUnhealthy, LastChecked: time.Now(), Error: ctx.Err().Error(),
				}
			case <-time.After(e.cfg.RetryDelay):
			}
		}
	}

	errMsg := lastErr.Error()
	if diag := diagnose(ctx, ep.Host); diag != "" {
		errMsg = errMsg + " (" + diag + ")"
	}
	return Attempt{
		Port: ep.Port, URL: ep.URL(), Transport: ep.Transport,
		Status: AttemptUnhealthy, LastChecked: time.Now(), Error: errMsg,
	}
}

func filterByPort(endpoints []Endpoint, port int) []Endpoint {
	out := make([]Endpoint, 0, 1)
	for _, e := range endpoints {
		if e.Port == port {
			out = append(out, e)
		}
	}
	return out
}
