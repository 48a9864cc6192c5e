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

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/google/uuid"
)

const historyCap = 200

// MigrationHistoryEntry records one scheduler-triggered migration attempt,
// surfaced on GET /api/migration/history.
type MigrationHistoryEntry struct {
	InstanceID  string    `json:"instanceId"`
	ProviderID  string    `json:"providerId"`
	TriggeredAt time.Time `json:"triggeredAt"`
	DryRun      bool      `json:"dryRun"`
}

// Migration ticks on a fixed interval, fetches a paged provider snapshot,
// and enqueues up to maxConcurrent migrate-spot jobs for spot-reclaimed
// instances.
type Migration struct {
	provider    *provider.Client
	store       *instance.Store
	queue       queue.Backend
	interval    time.Duration
	maxConcurrent int
	dryRun      bool
	maxAttempts int

	mu      sync.Mutex
	history []MigrationHistoryEntry
}

// NewMigration builds a Migration scheduler.
func NewMigration(p *provider.Client, store *instance.Store, backend queue.Backend, interval time.Duration, maxConcurrent int, dryRun bool, maxAttempts int) *Migration {
	return &Migration{
		provider:      p,
		store:         store,
		queue:         backend,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		dryRun:        dryRun,
		maxAttempts:   maxAttempts,
	}
}

// Run blocks, ticking at the configured interval until ctx is cancelled,
// grounded on the same targets.manager.Reconcile ticker-select shape as
// AutoStop.Run.
func (m *Migration) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info("Starting migration scheduler", "interval", m.interval, "maxConcurrent", m.maxConcurrent)
	for {
		select {
		case <-ctx.Done():
			log.Info("Migration scheduler stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				log.Warn("Migration sweep failed", "error", err)
			}
		}
	}
}

// History returns a snapshot of the bounded migration-trigger history.
func (m *Migration) History() []MigrationHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MigrationHistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// TriggerNow runs one migration sweep immediately, independent of the
// ticker, for the manual POST /api/migration/trigger endpoint.
func (m *Migration) TriggerNow(ctx context.Context) error {
	return m.tick(ctx)
}

// Interval and MaxConcurrent expose the scheduler's configuration for the
// GET /api/migration/status endpoint.
func (m *Migration) Interval() time.Duration { return m.interval }
func (m *Migration) MaxConcurrent() int      { return m.maxConcurrent }
func (m *Migration) DryRun() bool            { return m.dryRun }

func (m *Migration) tick(ctx context.Context) error {
	log := logger.FromContext(ctx)

	eligible, err := m.fetchEligible(ctx)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		return nil
	}

	triggered := 0
	for _, pinst := range eligible {
		if triggered >= m.maxConcurrent {
			log.Debug("Migration sweep hit maxConcurrent, deferring remaining candidates to next tick",
				"deferred", len(eligible)-triggered)
			break
		}

		inst, err := m.store.GetByProviderID(pinst.ID)
		if err != nil {
			log.Debug("Spot-reclaimed provider instance has no local record, skipping", "providerId", pinst.ID)
			continue
		}
		if inst.Status == instance.StatusMigrating {
			continue // already in flight
		}

		if err := m.enqueueMigration(ctx, inst.ID); err != nil {
			log.Warn("Failed to enqueue migrate-spot job", "instanceId", inst.ID, "error", err)
			continue
		}
		m.record(inst.ID, pinst.ID)
		triggered++
	}
	return nil
}

// fetchEligible pages through the full provider instance list, filtering
// to spot-reclaimed instances.
func (m *Migration) fetchEligible(ctx context.Context) ([]provider.Instance, error) {
	var eligible []provider.Instance
	token := ""
	for {
		page, err := m.provider.ListInstances(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, inst := range page.Instances {
			if inst.IsSpotReclaimed() {
				eligible = append(eligible, inst)
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return eligible, nil
}

func (m *Migration) enqueueMigration(ctx context.Context, instanceID string) error {
	if m.dryRun {
		logger.FromContext(ctx).Info("migration dry run, not enqueueing migrate-spot job", "instanceId", instanceID)
		return nil
	}
	job := &queue.Job{
		ID:          uuid.NewString(),
		Type:        queue.TypeMigrateSpot,
		Priority:    queue.PriorityHigh,
		Payload:     map[string]any{"instanceId": instanceID},
		MaxAttempts: m.maxAttempts,
		CreatedAt:   time.Now(),
	}
	return m.queue.Enqueue(ctx, job)
}

func (m *Migration) record(instanceID, providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, MigrationHistoryEntry{
		InstanceID:  instanceID,
		ProviderID:  providerID,
		TriggeredAt: time.Now(),
		DryRun:      m.dryRun,
	})
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}
