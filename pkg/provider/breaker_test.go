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
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := newCircuitBreaker(3, time.Minute, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		allowed, probe := b.Allow()
		if !allowed {
			t.Fatalf("call %d: expected closed breaker to allow", i)
		}
		b.Failure(probe)
	}
	if b.State() != string(breakerClosed) {
		t.Fatalf("expected still closed after 2 failures, got %s", b.State())
	}

	allowed, probe := b.Allow()
	if !allowed {
		t.Fatal("expected 3rd call to be allowed before it fails")
	}
	b.Failure(probe)
	if b.State() != string(breakerOpen) {
		t.Fatalf("expected open after threshold reached, got %s", b.State())
	}

	allowed, _ = b.Allow()
	if allowed {
		t.Fatal("expected open breaker to fail fast")
	}
}

func TestCircuitBreaker_HalfOpenProbeSucceeds(t *testing.T) {
	b := newCircuitBreaker(1, time.Minute, 10*time.Millisecond)

	allowed, probe := b.Allow()
	if !allowed {
		t.Fatal("expected first call allowed")
	}
	b.Failure(probe)
	if b.State() != string(breakerOpen) {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	allowed, probe = b.Allow()
	if !allowed || !probe {
		t.Fatal("expected a half-open probe to be admitted after recovery timeout")
	}
	b.Success(probe)
	if b.State() != string(breakerClosed) {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailsReopens(t *testing.T) {
	b := newCircuitBreaker(1, time.Minute, 10*time.Millisecond)

	allowed, probe := b.Allow()
	b.Failure(probe)
	_ = allowed

	time.Sleep(20 * time.Millisecond)

	allowed, probe = b.Allow()
	if !allowed || !probe {
		t.Fatal("expected probe to be admitted")
	}
	b.Failure(probe)
	if b.State() != string(breakerOpen) {
		t.Fatalf("expected open again after failed probe, got %s", b.State())
	}
}
