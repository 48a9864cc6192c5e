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

package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Provider.ApiCredential = "test-token"
	cfg.Provider.BaseURL = "https://provider.test"
	cfg.Api.ListeningAddress = "127.0.0.1:0"
	cfg.AutoStop.Enabled = false
	cfg.Migration.Enabled = false
	return cfg
}

func TestNew_WiresEveryComponent(t *testing.T) {
	cp := New(testConfig(t))

	require.NotNil(t, cp.store)
	require.NotNil(t, cp.queue)
	require.NotNil(t, cp.provider)
	require.NotNil(t, cp.webhooks)
	require.NotNil(t, cp.startup)
	require.NotNil(t, cp.pool)
	require.NotNil(t, cp.registry)
	require.NotNil(t, cp.server)
	require.Nil(t, cp.autoStop)
	require.Nil(t, cp.migration)
}

func TestNew_WiresSchedulersWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoStop.Enabled = true
	cfg.Migration.Enabled = true

	cp := New(cfg)

	require.NotNil(t, cp.autoStop)
	require.NotNil(t, cp.migration)
}

func TestRun_ShutsDownCleanlyOnContextCancel(t *testing.T) {
	cp := New(testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cp.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
