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

	"github.com/caas-team/instanceplane/pkg/queue"
)

// handleSendWebhook is a thin wrapper around the dispatcher. On top of the
// dispatcher's own internal retries (network/5xx only, bounded), the error
// it returns on exhaustion is returned here so the queue's own retry
// policy can redeliver even across a worker-process restart mid-flight.
func (d *Deps) handleSendWebhook(ctx context.Context, job *queue.Job) error {
	url, payload, secret, err := decodeWebhookJobPayload(job.Payload)
	if err != nil {
		return err
	}
	return d.Webhooks.Deliver(ctx, url, payload, secret)
}
