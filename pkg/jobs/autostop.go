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
	"errors"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/webhook"
)

var errNotEligible = errors.New("instance is no longer eligible for auto-stop")

// handleAutoStopCheck implements the auto-stop-check job body: snapshot
// idle candidates, and either log them (dry run) or stop them. It is the one handler that does its own fan-out over multiple
// instances in a single job execution, matching the scheduler's
// one-job-per-tick design.
func (d *Deps) handleAutoStopCheck(ctx context.Context, _ *queue.Job) error {
	log := logger.FromContext(ctx)

	candidates := d.idleCandidates(ctx)
	if len(candidates) == 0 {
		return nil
	}

	if d.Config.AutoStop.DryRun {
		for _, c := range candidates {
			log.InfoContext(ctx, "auto-stop candidate (dry run)", "instanceId", c.ID, "name", c.Name)
		}
		return nil
	}

	var stopErrs error
	for _, c := range candidates {
		if err := d.stopIdleInstance(ctx, c); err != nil {
			log.ErrorContext(ctx, "failed to auto-stop instance", "instanceId", c.ID, "error", err)
			stopErrs = errors.Join(stopErrs, err)
		}
	}
	return stopErrs
}

func (d *Deps) idleCandidates(ctx context.Context) []instance.Instance {
	log := logger.FromContext(ctx)
	now := time.Now()
	threshold := d.Config.AutoStop.InactivityThresholdMinute

	snapshot := d.Store.List(instance.Filter{Status: []instance.Status{instance.StatusRunning, instance.StatusReady}})
	candidates := make([]instance.Instance, 0, len(snapshot))
	for _, inst := range snapshot {
		idleSince := inst.Timestamps.LastUsed
		if idleSince.IsZero() && inst.Timestamps.Started != nil {
			idleSince = *inst.Timestamps.Started
		}
		if idleSince.IsZero() {
			idleSince = inst.Timestamps.Created
		}
		if now.Sub(idleSince) >= threshold {
			candidates = append(candidates, inst)
		}
	}
	log.DebugContext(ctx, "auto-stop sweep complete", "scanned", len(snapshot), "candidates", len(candidates))
	return candidates
}

// stopIdleInstance re-validates eligibility under the instance's own lock
// before issuing the provider stop, so a concurrent user-initiated start
// always wins the race.
func (d *Deps) stopIdleInstance(ctx context.Context, c instance.Instance) error {
	var providerID string
	_, err := d.Store.Update(c.ID, func(i *instance.Instance) error {
		if i.Status != instance.StatusRunning && i.Status != instance.StatusReady {
			return errNotEligible
		}
		providerID = i.ProviderID
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotEligible) {
			return nil
		}
		return err
	}

	if err := d.Provider.StopInstance(ctx, providerID); err != nil {
		return err
	}

	now := time.Now()
	if _, err := d.Store.Update(c.ID, func(i *instance.Instance) error {
		i.Status = instance.StatusStopping
		i.Timestamps.Stopping = &now
		return nil
	}); err != nil {
		return err
	}

	return d.enqueueWebhook(ctx, c.Config.WebhookURL, webhook.Payload{
		InstanceID: c.ID,
		Status:     webhook.StatusStopped,
		Timestamp:  now,
	})
}
