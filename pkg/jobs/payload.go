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

// Package jobs holds the type-specific handlers dispatched by the worker
// pool: resolve a product and create an instance, monitor
// it through to ready, deliver webhooks, and run the auto-stop/migration
// scheduler's per-tick work.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/caas-team/instanceplane/pkg/webhook"
)

func instanceIDOf(payload map[string]any) (string, error) {
	v, ok := payload["instanceId"].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("job payload missing instanceId")
	}
	return v, nil
}

// webhookJobPayload builds a send-webhook job's opaque payload map by
// round-tripping through JSON, since queue.Job.Payload is deliberately
// untyped.
func webhookJobPayload(url string, p webhook.Payload, secret string) (map[string]any, error) {
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

func decodeWebhookJobPayload(payload map[string]any) (url string, p webhook.Payload, secret string, err error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", webhook.Payload{}, "", err
	}
	var decoded struct {
		URL     string          `json:"url"`
		Payload webhook.Payload `json:"payload"`
		Secret  string          `json:"secret,omitempty"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", webhook.Payload{}, "", err
	}
	return decoded.URL, decoded.Payload, decoded.Secret, nil
}
