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
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/webhook"
	"github.com/stretchr/testify/require"
)

func TestInstanceIDOf(t *testing.T) {
	id, err := instanceIDOf(map[string]any{"instanceId": "i-1"})
	require.NoError(t, err)
	require.Equal(t, "i-1", id)

	_, err = instanceIDOf(map[string]any{})
	require.Error(t, err)

	_, err = instanceIDOf(map[string]any{"instanceId": 42})
	require.Error(t, err)
}

func TestWebhookJobPayload_RoundTrips(t *testing.T) {
	p := webhook.Payload{
		InstanceID: "i-1",
		Status:     webhook.StatusReady,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
		HealthCheck: &webhook.HealthCheckSummary{
			Passed: 2, Total: 2,
		},
	}

	payload, err := webhookJobPayload("https://hooks.test/cb", p, "shh")
	require.NoError(t, err)

	gotURL, gotPayload, gotSecret, err := decodeWebhookJobPayload(payload)
	require.NoError(t, err)
	require.Equal(t, "https://hooks.test/cb", gotURL)
	require.Equal(t, "shh", gotSecret)
	require.Equal(t, p.InstanceID, gotPayload.InstanceID)
	require.Equal(t, p.Status, gotPayload.Status)
	require.True(t, p.Timestamp.Equal(gotPayload.Timestamp))
	require.Equal(t, p.HealthCheck.Passed, gotPayload.HealthCheck.Passed)
}
