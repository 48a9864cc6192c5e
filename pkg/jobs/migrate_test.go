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
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeMigrationFailure(t *testing.T) {
	cases := []struct {
		name         string
		err          error
		wantCategory migrationCategory
		wantRetry    bool
	}{
		{"network", errs.Network(errors.New("connection reset"), true), categoryNetwork, true},
		{"timeout", errs.ProviderTimeout("deadline exceeded"), categoryTimeout, true},
		{"rate limit", errs.RateLimit(2 * time.Second), categoryRateLimit, true},
		{"server error retryable", errs.ProviderClient(503, "", "boom"), categoryAPI, true},
		{"client error not retryable", errs.ProviderClient(400, "", "bad request"), categoryAPI, false},
		{"validation not retryable", errs.Validation("bad region"), categoryConfiguration, false},
		{"resource constraints not retryable", errs.ResourceConstraints("no capacity"), categoryConfiguration, false},
		{"not found not retryable", errs.NotFound("instance gone"), categoryEligibility, false},
		{"unknown defaults to retryable migration error", assertPlainError("weird"), categoryMigration, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotCategory, gotRetry := categorizeMigrationFailure(tc.err)
			assert.Equal(t, tc.wantCategory, gotCategory)
			assert.Equal(t, tc.wantRetry, gotRetry)
		})
	}
}

type plainError string

func (e plainError) Error() string { return string(e) }

func assertPlainError(msg string) error { return plainError(msg) }

func TestHandleMigrateSpot_DryRunSkipsProviderCall(t *testing.T) {
	d, store, _ := newTestDeps(t)
	d.Config.Migration.DryRun = true

	inst, err := store.Create("spot-box", instance.Config{}, "")
	require.NoError(t, err)
	_, err = store.Update(inst.ID, func(i *instance.Instance) error {
		i.ProviderID = "prov-1"
		i.Status = instance.StatusRunning
		return nil
	})
	require.NoError(t, err)

	job := &queue.Job{Type: queue.TypeMigrateSpot, Payload: map[string]any{"instanceId": inst.ID}}
	require.NoError(t, d.handleMigrateSpot(context.Background(), job))

	got, err := store.Get(inst.ID)
	require.NoError(t, err)
	require.Equal(t, instance.StatusRunning, got.Status) // untouched, dry run
}

func TestHandleMigrateSpot_FailureSpawnsRetryJobOnFirstAttempt(t *testing.T) {
	d, store, backend := newTestDeps(t)
	d.Config.Migration.DryRun = false
	d.Config.Migration.RetryFailedMigrations = true

	inst, err := store.Create("spot-box", instance.Config{}, "")
	require.NoError(t, err)
	_, err = store.Update(inst.ID, func(i *instance.Instance) error {
		i.ProviderID = "prov-1"
		i.Status = instance.StatusRunning
		return nil
	})
	require.NoError(t, err)

	httpmock.RegisterResponder("POST", "https://provider.test/v1/instances/prov-1/migrate",
		httpmock.NewStringResponder(503, `{"message":"capacity exhausted"}`))

	job := &queue.Job{ID: "job-1", Type: queue.TypeMigrateSpot, Payload: map[string]any{"instanceId": inst.ID}}
	require.NoError(t, d.handleMigrateSpot(context.Background(), job))

	stats, err := backend.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending) // the spawned failed-migration-retry job
}

func TestHandleMigrateSpot_RetryJobFailureIsReturnedForQueueBackoff(t *testing.T) {
	d, store, _ := newTestDeps(t)
	d.Config.Migration.DryRun = false
	d.Config.Migration.RetryFailedMigrations = true

	inst, err := store.Create("spot-box", instance.Config{}, "")
	require.NoError(t, err)
	_, err = store.Update(inst.ID, func(i *instance.Instance) error {
		i.ProviderID = "prov-1"
		i.Status = instance.StatusRunning
		return nil
	})
	require.NoError(t, err)

	httpmock.RegisterResponder("POST", "https://provider.test/v1/instances/prov-1/migrate",
		httpmock.NewStringResponder(503, `{"message":"still exhausted"}`))

	job := &queue.Job{ID: "job-2", Type: queue.TypeFailedMigrationRetry, Payload: map[string]any{"instanceId": inst.ID}}
	err = d.handleMigrateSpot(context.Background(), job)
	require.Error(t, err) // left for the queue's own backoff, no third job type spawned
}
