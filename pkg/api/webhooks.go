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

package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/webhook"
	"github.com/google/uuid"
)

// statusWebhookStatus maps an instance.Status reached synchronously by an
// API handler to the webhook lifecycle status it reports.
var statusWebhookStatus = map[instance.Status]webhook.Status{
	instance.StatusStopping: webhook.StatusStopped,
}

// enqueueStatusWebhook schedules a send-webhook job for a status reached
// directly inside an API handler (as opposed to a job worker), the same
// queue.TypeSendWebhook job shape pkg/jobs' enqueueWebhook builds, so
// delivery gets the queue's own retry budget regardless of which
// component observed the transition first.
func (s *Server) enqueueStatusWebhook(ctx context.Context, inst *instance.Instance) error {
	url := inst.Config.WebhookURL
	if url == "" {
		return nil
	}
	status, ok := statusWebhookStatus[inst.Status]
	if !ok {
		return nil
	}
	payload := webhook.Payload{
		InstanceID: inst.ID,
		Status:     status,
		Timestamp:  time.Now(),
	}
	data, err := buildWebhookJobPayload(url, payload, "")
	if err != nil {
		return err
	}
	job := &queue.Job{
		ID:          uuid.NewString(),
		Type:        queue.TypeSendWebhook,
		Priority:    queue.PriorityNormal,
		Payload:     data,
		MaxAttempts: s.deps.Config.Jobs.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	return s.deps.Queue.Enqueue(ctx, job)
}

// buildWebhookJobPayload mirrors pkg/jobs' unexported webhookJobPayload:
// queue.Job.Payload is deliberately untyped, so every enqueuer round-trips
// through JSON to the same {url, payload, secret} shape handleSendWebhook
// decodes.
func buildWebhookJobPayload(url string, p webhook.Payload, secret string) (map[string]any, error) {
	raw, err := json.Marshal(struct {
		URL     string          `json:"url"`
		Payload webhook.Payload `json:"payload"`
		Secret  string          `json:"secret,omitempty"`
	}{URL: url, Payload: p, Secret: secret})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
