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
	"net/http"
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/scheduler"
	"github.com/stretchr/testify/require"
)

func TestHandleAutoStopTrigger_RejectsWhenSchedulerDisabled(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/instances/auto-stop/trigger", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAutoStopTrigger_EnqueuesSweepWhenEnabled(t *testing.T) {
	s, deps, _ := newTestServer(t)
	s.autoStop = scheduler.NewAutoStop(deps.Queue, time.Minute, deps.Config.Jobs.MaxAttempts)

	w := doRequest(s, http.MethodPost, "/api/instances/auto-stop/trigger", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleAutoStopStats_CountsIdleCandidates(t *testing.T) {
	s, deps, store := newTestServer(t)
	deps.Config.AutoStop.InactivityThresholdMinute = time.Minute

	inst, err := store.Create("idle-box", instance.Config{}, "")
	require.NoError(t, err)
	_, err = store.Update(inst.ID, func(i *instance.Instance) error {
		i.Status = instance.StatusRunning
		i.Timestamps.LastUsed = time.Now().Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	w := doRequest(s, http.MethodGet, "/api/instances/auto-stop/stats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"candidates":1`)
}
