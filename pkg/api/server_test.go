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
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/jobs"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/startup"
	"github.com/caas-team/instanceplane/pkg/webhook"
	"github.com/jarcoal/httpmock"
)

// newTestServer mirrors pkg/jobs's newTestDeps helper, wiring a Server
// against an in-memory queue/store and an httpmock-activated provider
// client with both schedulers disabled (nil) unless a test opts in.
func newTestServer(t *testing.T) (*Server, *jobs.Deps, *instance.Store) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	cfg := config.NewConfig()
	cfg.Provider.BaseURL = "https://provider.test"
	cfg.Provider.MaxRetries = 0
	cfg.Provider.RetryBaseDelay = time.Millisecond
	cfg.Provider.RetryMaxDelay = 5 * time.Millisecond
	cfg.Provider.RateLimitWindow = time.Millisecond
	cfg.Provider.RateLimitMaxRequests = 1000
	providerClient := provider.NewClient(cfg.Provider, cfg.Cache)

	store := instance.NewStore(16)
	backend := queue.NewInMemory(cfg.Jobs.BackoffBase, cfg.Jobs.BackoffMax)
	webhooks := webhook.NewDispatcher(cfg.Webhook.Timeout, cfg.Webhook.MaxRetries, "")

	deps := &jobs.Deps{
		Provider: providerClient,
		Store:    store,
		Queue:    backend,
		Webhooks: webhooks,
		Startup:  startup.NewManager(),
		Config:   cfg,
	}

	s := New(deps, nil, nil, nil)
	return s, deps, store
}
