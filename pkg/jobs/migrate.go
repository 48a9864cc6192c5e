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
	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/webhook"
)

// migrationCategory classifies a migration failure for retry/alerting
// purposes.
type migrationCategory string

const (
	categoryNetwork       migrationCategory = "network"
	categoryTimeout       migrationCategory = "timeout"
	categoryRateLimit     migrationCategory = "rate-limit"
	categoryAPI           migrationCategory = "api"
	categoryScheduling    migrationCategory = "scheduling"
	categoryMigration     migrationCategory = "migration"
	categoryConfiguration migrationCategory = "configuration"
	categoryEligibility   migrationCategory = "eligibility"
)

func categorizeMigrationFailure(err error) (migrationCategory, bool) {
	kind, ok := errs.KindOf(err)
	if !ok {
		return categoryMigration, true
	}
	switch kind {
	case errs.KindNetwork:
		return categoryNetwork, true
	case errs.KindProviderTimeout:
		return categoryTimeout, true
	case errs.KindRateLimit:
		return categoryRateLimit, true
	case errs.KindProviderClient:
		var e *errs.Error
		status := 0
		if errors.As(err, &e) {
			status = e.ProviderStatus
		}
		return categoryAPI, status >= 500 || status == 429
	case errs.KindValidation, errs.KindResourceConstraints:
		return categoryConfiguration, false
	case errs.KindNotFound:
		return categoryEligibility, false
	default:
		return categoryMigration, true
	}
}

// handleMigrateSpot performs one instance's migration. It is also the
// handler for failed-migration-retry jobs: both carry the same payload
// shape, and a second failure on a retry job is rescheduled by the
// queue's own backoff rather than spawning a third job type.
func (d *Deps) handleMigrateSpot(ctx context.Context, job *queue.Job) error {
	log := logger.FromContext(ctx)

	id, err := instanceIDOf(job.Payload)
	if err != nil {
		return err
	}
	inst, err := d.Store.Get(id)
	if err != nil {
		return err
	}

	if d.Config.Migration.DryRun {
		log.InfoContext(ctx, "migration dry run, skipping actual migrate call", "instanceId", id)
		return nil
	}

	migrated, migrateErr := d.Provider.MigrateInstance(ctx, inst.ProviderID)
	if migrateErr != nil {
		return d.handleMigrationFailure(ctx, job, inst, migrateErr)
	}

	originalProviderID := inst.ProviderID
	now := time.Now()
	if _, err := d.Store.Update(id, func(i *instance.Instance) error {
		i.ProviderID = migrated.ID
		i.Status = instance.StatusMigrating
		return nil
	}); err != nil {
		return err
	}

	// Confirm the new instance has come up before declaring success.
	deadline := now.Add(d.Config.Migration.JobTimeout)
	if pinst, pollErr := d.pollUntilRunningOrTerminal(ctx, migrated.ID, deadline); pollErr == nil && pinst != nil && pinst.Status == "running" {
		if _, err := d.Store.Update(id, func(i *instance.Instance) error {
			i.Status = instance.StatusRunning
			return nil
		}); err != nil {
			return err
		}
	}

	return d.enqueueWebhook(ctx, inst.Config.WebhookURL, webhook.Payload{
		InstanceID:         id,
		Status:             webhook.StatusMigrated,
		Timestamp:          time.Now(),
		NovitaInstanceID:   migrated.ID,
		OriginalInstanceID: originalProviderID,
	})
}

func (d *Deps) handleMigrationFailure(ctx context.Context, job *queue.Job, inst *instance.Instance, cause error) error {
	log := logger.FromContext(ctx)
	category, retryable := categorizeMigrationFailure(cause)

	log.WarnContext(ctx, "migration attempt failed", "instanceId", inst.ID, "category", category, "retryable", retryable, "error", cause)

	if !retryable || !d.Config.Migration.RetryFailedMigrations {
		if _, err := d.Store.Update(inst.ID, func(i *instance.Instance) error {
			i.LastError = cause.Error()
			return nil
		}); err != nil {
			log.ErrorContext(ctx, "failed to record migration failure", "instanceId", inst.ID, "error", err)
		}
		return nil
	}

	if job.Type == queue.TypeFailedMigrationRetry {
		return cause // let the queue's own backoff reschedule this same job
	}

	retryJob := newJob(queue.TypeFailedMigrationRetry, queue.PriorityNormal, job.Payload, d.Config.Jobs.MaxAttempts)
	return d.Queue.Enqueue(ctx, retryJob)
}
