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

package startup

import (
	"sync"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
)

// Manager tracks one Operation per instance, guarded by a single mutex —
// startup operations are created and advanced far less often than, say,
// instance records are mutated, so the per-record locking used in
// pkg/instance.Store isn't warranted here.
type Manager struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{ops: make(map[string]*Operation)}
}

// Begin starts a new startup operation for instanceID. If a non-terminal
// operation already exists for that instance, it returns
// errs.StartupInProgress without creating a second one.
func (m *Manager) Begin(instanceID string, timeout time.Duration) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.ops[instanceID]; ok && !existing.Phase.Terminal() {
		return nil, errs.StartupInProgress(instanceID)
	}

	now := time.Now()
	op := &Operation{
		InstanceID: instanceID,
		Phase:      PhaseStartRequested,
		StartedAt:  now,
		UpdatedAt:  now,
		Deadline:   now.Add(timeout),
	}
	m.ops[instanceID] = op
	return op.snapshot(), nil
}

// SetHealthCheckDeadline overrides the health-check phase budget for
// instanceID, per the caller-supplied healthCheckConfig.maxWaitTimeMs
// override.
func (m *Manager) SetHealthCheckDeadline(instanceID string, maxWait time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[instanceID]
	if !ok {
		return errs.NotFound("no startup operation for instance " + instanceID)
	}
	deadline := time.Now().Add(maxWait)
	op.HealthCheckDeadline = &deadline
	return nil
}

// Advance moves instanceID's operation to phase, unless it is already
// terminal or expired.
func (m *Manager) Advance(instanceID string, phase Phase) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[instanceID]
	if !ok {
		return nil, errs.NotFound("no startup operation for instance " + instanceID)
	}
	if op.Phase.Terminal() {
		return op.snapshot(), nil
	}
	if op.Expired(time.Now()) {
		op.Phase = PhaseFailed
		op.LastError = "startup timed out"
		op.UpdatedAt = time.Now()
		return op.snapshot(), errs.StartupTimeout("startup operation for instance " + instanceID + " timed out")
	}
	op.Phase = phase
	op.UpdatedAt = time.Now()
	return op.snapshot(), nil
}

// Fail marks instanceID's operation failed with cause.
func (m *Manager) Fail(instanceID string, cause error) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[instanceID]
	if !ok {
		return nil, errs.NotFound("no startup operation for instance " + instanceID)
	}
	op.Phase = PhaseFailed
	op.UpdatedAt = time.Now()
	if cause != nil {
		op.LastError = cause.Error()
	}
	return op.snapshot(), nil
}

// Get returns the current snapshot of instanceID's operation.
func (m *Manager) Get(instanceID string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[instanceID]
	if !ok {
		return nil, errs.NotFound("no startup operation for instance " + instanceID)
	}
	return op.snapshot(), nil
}

// Forget removes a terminal operation, bounding the map's long-run size.
// It is a no-op if the operation is not terminal or does not exist.
func (m *Manager) Forget(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op, ok := m.ops[instanceID]; ok && op.Phase.Terminal() {
		delete(m.ops, instanceID)
	}
}
