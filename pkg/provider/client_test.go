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

package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	cfg := config.ProviderConfig{
		BaseURL:                 "https://provider.test",
		ApiCredential:           "secret-token",
		RequestTimeout:          time.Second,
		MaxRetries:              2,
		RetryBaseDelay:          time.Millisecond,
		RetryMaxDelay:           10 * time.Millisecond,
		CircuitBreakerThreshold: 3,
		CircuitBreakerWindow:    time.Minute,
		CircuitBreakerTimeout:   time.Minute,
		RateLimitWindow:         time.Millisecond,
		RateLimitMaxRequests:    1000,
	}
	cacheCfg := config.CacheConfig{Products: time.Minute, Templates: time.Minute, Instances: time.Minute}
	c := NewClient(cfg, cacheCfg)
	httpmock.ActivateNonDefault(c.httpClient)
	return c
}

func TestClient_ListProducts_CachesResult(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://provider.test/v1/products",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"products": []map[string]any{{"id": "p1", "name": "RTX 4090 24GB", "available": true}},
		}))

	products, err := c.ListProducts(context.Background(), ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "p1", products[0].ID)

	// Remove the responder; the second call must be served from cache.
	httpmock.Reset()
	products2, err := c.ListProducts(context.Background(), ProductFilter{})
	require.NoError(t, err)
	require.Equal(t, products, products2)
}

func TestClient_GetTemplate_FlattensPorts(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://provider.test/v1/template/pytorch",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"Id":    "pytorch",
			"image": "ghcr.io/example/pytorch:latest",
			"ports": []map[string]any{
				{"type": "http", "ports": []int{8080, 8888}},
				{"type": "tcp", "ports": []int{22}},
			},
		}))

	tmpl, err := c.GetTemplate(context.Background(), TemplateID("pytorch"))
	require.NoError(t, err)
	require.Equal(t, TemplateID("pytorch"), tmpl.ID)
	require.ElementsMatch(t, []PortSpec{
		{Port: 8080, Type: "http"},
		{Port: 8888, Type: "http"},
		{Port: 22, Type: "tcp"},
	}, tmpl.Ports)
}

func TestClient_RateLimit_RetriesAndHonorsRetryAfter(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	attempt := 0
	httpmock.RegisterResponder("GET", "https://provider.test/v1/instances/abc",
		func(req *http.Request) (*http.Response, error) {
			attempt++
			if attempt == 1 {
				resp := httpmock.NewStringResponse(429, `{"code":"rate_limited","message":"slow down"}`)
				resp.Header.Set("Retry-After", "1")
				return resp, nil
			}
			return httpmock.NewJsonResponse(200, map[string]any{"id": "abc", "status": "running"})
		})

	start := time.Now()
	inst, err := c.GetInstance(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", inst.ID)
	require.Equal(t, 2, attempt)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestClient_DoesNotRetryOn400(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	attempt := 0
	httpmock.RegisterResponder("POST", "https://provider.test/v1/instances/create",
		func(req *http.Request) (*http.Response, error) {
			attempt++
			return httpmock.NewStringResponse(400, `{"code":"invalid","message":"bad request"}`), nil
		})

	_, err := c.CreateInstance(context.Background(), CreateInstanceRequest{Name: "bad"})
	require.Error(t, err)
	require.Equal(t, 1, attempt)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindProviderClient, kind)
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://provider.test/v1/instances/x/start",
		httpmock.NewStringResponder(500, `{"code":"internal","message":"boom"}`))

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = c.StartInstance(context.Background(), "x")
	}
	require.Error(t, lastErr)

	lastErr = c.StartInstance(context.Background(), "x")
	kind, ok := errs.KindOf(lastErr)
	require.True(t, ok)
	require.Equal(t, errs.KindCircuitOpen, kind)
}
