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
	"testing"

	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestCheapestAvailable_PicksLowestPriceAmongAvailable(t *testing.T) {
	products := []provider.Product{
		{ID: "p1", PricePerHour: 2.50, Available: true},
		{ID: "p2", PricePerHour: 1.20, Available: true},
		{ID: "p3", PricePerHour: 0.50, Available: false},
	}

	best, ok := cheapestAvailable(products)
	require.True(t, ok)
	require.Equal(t, "p2", best.ID)
}

func TestCheapestAvailable_NoneAvailable(t *testing.T) {
	products := []provider.Product{{ID: "p1", Available: false}}
	_, ok := cheapestAvailable(products)
	require.False(t, ok)
}

func TestBuildCreateRequest_FallsBackToTemplateWhenConfigOmits(t *testing.T) {
	inst := &instance.Instance{
		ID:   "inst-1",
		Name: "demo",
		Config: instance.Config{
			TemplateID: "tmpl-1",
		},
	}
	tmpl := &provider.Template{
		Image: "template-image",
		Ports: []provider.PortSpec{{Port: 8080, Type: "http"}},
		Env:   []provider.EnvVar{{Key: "FOO", Value: "bar"}},
	}
	req := buildCreateRequest(inst, provider.Product{ID: "prod-1"}, tmpl, "user:pass")

	require.Equal(t, "template-image", req.Image)
	require.Equal(t, tmpl.Ports, req.Ports)
	require.Equal(t, tmpl.Env, req.Env)
	require.Equal(t, "prod-1", req.ProductID)
	require.Equal(t, "user:pass", req.ImageAuth)
}

func TestResolveProduct_FallsBackAcrossConfiguredRegions(t *testing.T) {
	d, _, _ := newTestDeps(t)
	d.Config.Defaults.RegionFallback = []string{"us-east-1", "eu-central-1"}

	httpmock.RegisterResponder("GET", "https://provider.test/v1/products?name=rtx-4090&region=us-west-1",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"products": []map[string]any{}}))
	httpmock.RegisterResponder("GET", "https://provider.test/v1/products?name=rtx-4090&region=us-east-1",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"products": []map[string]any{
				{"id": "p-east-expensive", "name": "rtx-4090", "region": "us-east-1", "pricePerHour": 3.0, "available": true},
				{"id": "p-east-cheap", "name": "rtx-4090", "region": "us-east-1", "pricePerHour": 1.1, "available": true},
			},
		}))

	cfg := instance.Config{ProductID: "rtx-4090", Region: "us-west-1"}
	product, err := d.resolveProduct(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "p-east-cheap", product.ID)
}

func TestResolveProduct_ResourceConstraintsWhenNoRegionHasCapacity(t *testing.T) {
	d, _, _ := newTestDeps(t)
	d.Config.Defaults.RegionFallback = nil

	httpmock.RegisterResponder("GET", "https://provider.test/v1/products?name=rtx-4090&region=us-west-1",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"products": []map[string]any{}}))

	_, err := d.resolveProduct(context.Background(), instance.Config{ProductID: "rtx-4090", Region: "us-west-1"})
	require.Error(t, err)
}
