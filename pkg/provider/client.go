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

// Package provider wraps every outbound call this control plane makes to
// the external GPU compute provider: request spacing, circuit breaking,
// retry, and the typed operations themselves.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/internal/reqctx"
	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/errs"
)

// Client mediates every outbound call to the external provider, applying
// (in order) a request queue, a circuit breaker, and a retry policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	credential string

	limiter *rateLimiter
	breaker *circuitBreaker
	retry   retryPolicy

	products      *ttlCache[[]Product]
	templates     *ttlCache[*Template]
	registryAuths *ttlCache[[]RegistryAuth]
}

// NewClient builds a provider Client from the outbound-provider section of
// the control plane configuration.
func NewClient(cfg config.ProviderConfig, cacheCfg config.CacheConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.novita.ai"
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(base, "/"),
		credential: cfg.ApiCredential,
		limiter:    newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxRequests),
		breaker:    newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerWindow, cfg.CircuitBreakerTimeout),
		retry: retryPolicy{
			maxAttempts: cfg.MaxRetries + 1,
			baseDelay:   cfg.RetryBaseDelay,
			maxDelay:    cfg.RetryMaxDelay,
		},
		products:      newTTLCache[[]Product](cacheCfg.Products),
		templates:     newTTLCache[*Template](cacheCfg.Templates),
		registryAuths: newTTLCache[[]RegistryAuth](cacheCfg.Instances),
	}
}

// BreakerState reports the current circuit-breaker state, for metrics.
func (c *Client) BreakerState() string { return c.breaker.State() }

// CacheStats reports hit/miss counters for the products and templates
// caches, consumed by the comprehensive-listing performance block.
func (c *Client) CacheStats() (productsHits, productsMisses, templatesHits, templatesMisses uint64) {
	ph, pm := c.products.Stats()
	th, tm := c.templates.Stats()
	return ph, pm, th, tm
}

// call applies the queue → breaker → retry pipeline around a single HTTP
// round trip and JSON-decodes a successful response into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	allowed, probe := c.breaker.Allow()
	if !allowed {
		return errs.CircuitOpen()
	}

	err := withRetry(ctx, c.retry, func(ctx context.Context) (time.Duration, error) {
		return c.roundTrip(ctx, method, path, body, out)
	})

	if err != nil {
		c.breaker.Failure(probe)
		return err
	}
	c.breaker.Success(probe)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) (time.Duration, error) {
	log := logger.FromContext(ctx)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, errs.Internal(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, errs.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := reqctx.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	// Authorization and any registry-auth password are never logged.
	log.DebugContext(ctx, "provider request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		retryable := ctx.Err() == nil
		return 0, errs.Network(err, retryable)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.WarnContext(ctx, "failed to close provider response body", "error", cerr)
		}
	}()

	if resp.StatusCode >= 300 {
		cerr := classifyResponse(resp)
		if e, ok := cerr.(*errs.Error); ok && e.Kind == errs.KindRateLimit {
			return e.RetryAfter, cerr
		}
		return 0, cerr
	}

	if out == nil {
		return 0, nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return 0, errs.Internal(fmt.Errorf("decoding provider response: %w", err))
	}
	return 0, nil
}

// ListProducts lists provider products filtered by name/region/billing
// method, using the products cache ahead of demand.
func (c *Client) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	key := filter.Name + "|" + filter.Region + "|" + filter.BillingMethod
	if cached, ok := c.products.Get(key); ok {
		return cached, nil
	}

	q := url.Values{}
	if filter.Name != "" {
		q.Set("name", filter.Name)
	}
	if filter.Region != "" {
		q.Set("region", filter.Region)
	}
	if filter.BillingMethod != "" {
		q.Set("billingMethod", filter.BillingMethod)
	}

	var resp struct {
		Products []Product `json:"products"`
	}
	path := "/v1/products"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	c.products.Set(key, resp.Products)
	return resp.Products, nil
}

// GetTemplate fetches and flattens a template, using the templates cache.
func (c *Client) GetTemplate(ctx context.Context, id TemplateID) (*Template, error) {
	if cached, ok := c.templates.Get(string(id)); ok {
		return cached, nil
	}

	var wire templateWire
	if err := c.call(ctx, http.MethodGet, "/v1/template/"+string(id), nil, &wire); err != nil {
		return nil, err
	}
	tmpl := &Template{
		ID:    wire.ID,
		Image: wire.Image,
		Ports: flattenPorts(wire.Ports),
		Env:   wire.Env,
	}
	c.templates.Set(string(id), tmpl)
	return tmpl, nil
}

// ListRegistryAuths lists stored image-pull credentials.
func (c *Client) ListRegistryAuths(ctx context.Context) ([]RegistryAuth, error) {
	if cached, ok := c.registryAuths.Get("all"); ok {
		return cached, nil
	}
	var resp struct {
		Auths []RegistryAuth `json:"auths"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/repository/auths", nil, &resp); err != nil {
		return nil, err
	}
	c.registryAuths.Set("all", resp.Auths)
	return resp.Auths, nil
}

// CreateInstance creates a new instance.
func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error) {
	var inst Instance
	if err := c.call(ctx, http.MethodPost, "/v1/instances/create", wireCreateRequest(req), &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// wireCreateRequest re-groups the flattened port list back into the
// provider's {type, ports:[...]} wire shape before marshaling.
func wireCreateRequest(req CreateInstanceRequest) any {
	grouped := map[string][]int{}
	var order []string
	for _, p := range req.Ports {
		if _, seen := grouped[p.Type]; !seen {
			order = append(order, p.Type)
		}
		grouped[p.Type] = append(grouped[p.Type], p.Port)
	}
	groups := make([]wirePortGroup, 0, len(order))
	for _, t := range order {
		groups = append(groups, wirePortGroup{Type: t, Ports: grouped[t]})
	}

	return struct {
		Name         string          `json:"name"`
		ProductID    string          `json:"productId"`
		TemplateID   TemplateID      `json:"templateId"`
		GpuCount     int             `json:"gpuNum"`
		RootfsSizeGB int             `json:"rootfsSize"`
		Image        string          `json:"image"`
		ImageAuth    string          `json:"imageAuth,omitempty"`
		Ports        []wirePortGroup `json:"ports"`
		Env          []EnvVar        `json:"env"`
	}{
		Name:         req.Name,
		ProductID:    req.ProductID,
		TemplateID:   req.TemplateID,
		GpuCount:     req.GpuCount,
		RootfsSizeGB: req.RootfsSizeGB,
		Image:        req.Image,
		ImageAuth:    req.ImageAuth,
		Ports:        groups,
		Env:          req.Env,
	}
}

// GetInstance fetches a single instance by provider ID.
func (c *Client) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := c.call(ctx, http.MethodGet, "/v1/instances/"+id, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances lists instances, paged.
func (c *Client) ListInstances(ctx context.Context, pageToken string) (*InstancePage, error) {
	path := "/v1/instances"
	if pageToken != "" {
		path += "?pageToken=" + url.QueryEscape(pageToken)
	}
	var page InstancePage
	if err := c.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// StartInstance requests the provider start a stopped instance.
func (c *Client) StartInstance(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/v1/instances/"+id+"/start", nil, nil)
}

// StopInstance requests the provider stop a running instance.
func (c *Client) StopInstance(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/v1/instances/"+id+"/stop", nil, nil)
}

// DeleteInstance requests the provider permanently delete an instance.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/v1/instances/"+id+"/delete", nil, nil)
}

// MigrateInstance requests the provider replace a reclaimed spot instance,
// returning the new provider-side instance record.
func (c *Client) MigrateInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := c.call(ctx, http.MethodPost, "/v1/instances/"+id+"/migrate", nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListJobs lists provider-side background jobs, for job polling.
func (c *Client) ListJobs(ctx context.Context) ([]ProviderJob, error) {
	var resp struct {
		Jobs []ProviderJob `json:"jobs"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Ping performs a lightweight, uncached health-check call against the
// provider, going through the same queue/breaker/retry pipeline as any
// other operation.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/v1/products", nil, nil)
}
