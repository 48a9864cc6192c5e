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

package provider

import (
	"sync"
	"time"
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half_open"
)

// circuitBreaker is a single shared, mutex-guarded closed/open/half-open
// state machine, process-wide, guarding the provider client. No
// circuit-breaker library is grounded anywhere in the example pack (the
// only hit, sony/gobreaker, appears solely in an unrelated integration
// test), so this is hand-rolled.
type circuitBreaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	timeout   time.Duration

	state       breakerState
	failures    []time.Time
	openedAt    time.Time
	halfOpenGo  bool // a half-open probe is currently in flight
}

func newCircuitBreaker(threshold int, window, timeout time.Duration) *circuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &circuitBreaker{
		threshold: threshold,
		window:    window,
		timeout:   timeout,
		state:     breakerClosed,
	}
}

// Allow reports whether a call may proceed, and if so whether it is a
// half-open probe (callers must record its outcome via Success/Failure).
func (b *circuitBreaker) Allow() (allowed bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true, false
	case breakerOpen:
		if time.Since(b.openedAt) < b.timeout {
			return false, false
		}
		// Recovery timeout elapsed: admit exactly one probe.
		if b.halfOpenGo {
			return false, false
		}
		b.state = breakerHalfOpen
		b.halfOpenGo = true
		return true, true
	case breakerHalfOpen:
		// Only the probe admitted by the transition above proceeds; any
		// concurrent caller waits for its outcome.
		return false, false
	default:
		return true, false
	}
}

func (b *circuitBreaker) Success(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe || b.state == breakerHalfOpen {
		b.state = breakerClosed
		b.failures = nil
		b.halfOpenGo = false
		return
	}
	// A success while closed prunes the failure window but does not reset
	// the count; the breaker opens once threshold failures fall inside the
	// window.
	b.pruneLocked()
}

func (b *circuitBreaker) Failure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe || b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.halfOpenGo = false
		return
	}

	now := time.Now()
	b.failures = append(b.failures, now)
	b.pruneLocked()
	if len(b.failures) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = nil
	}
}

func (b *circuitBreaker) pruneLocked() {
	cutoff := time.Now().Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// State returns the current breaker state, for metrics/inspection.
func (b *circuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.state)
}
