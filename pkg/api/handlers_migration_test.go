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

	"github.com/caas-team/instanceplane/pkg/scheduler"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestHandleMigrationTrigger_RejectsWhenSchedulerDisabled(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/migration/trigger", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMigrationStatus_ReportsConfiguration(t *testing.T) {
	s, deps, _ := newTestServer(t)
	deps.Config.Migration.MaxConcurrent = 3

	w := doRequest(s, http.MethodGet, "/api/migration/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"maxConcurrent":3`)
}

func TestHandleMigrationHistory_EmptyWhenSchedulerDisabled(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/migration/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"history":[]}`, w.Body.String())
}

func TestHandleMigrationTrigger_AcceptsWhenEnabled(t *testing.T) {
	s, deps, _ := newTestServer(t)
	httpmock.RegisterResponder("GET", "https://provider.test/v1/instances",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"instances": []map[string]any{}}))
	s.migration = scheduler.NewMigration(deps.Provider, nil, deps.Queue, 0, 5, false, deps.Config.Jobs.MaxAttempts)

	w := doRequest(s, http.MethodPost, "/api/migration/trigger", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
}
