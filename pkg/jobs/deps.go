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

	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/startup"
	"github.com/caas-team/instanceplane/pkg/webhook"
)

// Handler processes one leased job. Returning an error lets the queue's
// Fail path schedule a retry or mark the job permanently failed; handlers
// must make every state mutation atomically visible before returning.
type Handler func(ctx context.Context, job *queue.Job) error

// Deps are the collaborators every handler needs. Grouping them in one
// struct and dispatching through a registry keyed by job type keeps the
// worker pool itself free of any per-job-type branching.
type Deps struct {
	Provider *provider.Client
	Store    *instance.Store
	Queue    queue.Backend
	Webhooks *webhook.Dispatcher
	Startup  *startup.Manager
	Config   *config.Config
}

// NewRegistry builds the Type-to-Handler dispatch table.
func NewRegistry(d *Deps) map[queue.Type]Handler {
	return map[queue.Type]Handler{
		queue.TypeCreateInstance:       d.handleCreateInstance,
		queue.TypeMonitorInstance:      d.handleMonitorInstance,
		queue.TypeSendWebhook:          d.handleSendWebhook,
		queue.TypeAutoStopCheck:        d.handleAutoStopCheck,
		queue.TypeMigrateSpot:          d.handleMigrateSpot,
		queue.TypeFailedMigrationRetry: d.handleMigrateSpot,
	}
}

// enqueueWebhook schedules a send-webhook job carrying p, so delivery gets
// the queue's own retry budget independent of the dispatcher's internal
// retries.
func (d *Deps) enqueueWebhook(ctx context.Context, url string, p webhook.Payload) error {
	if url == "" {
		return nil
	}
	payload, err := webhookJobPayload(url, p, "")
	if err != nil {
		return err
	}
	job := newJob(queue.TypeSendWebhook, queue.PriorityNormal, payload, d.Config.Jobs.MaxAttempts)
	return d.Queue.Enqueue(ctx, job)
}
