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
	"fmt"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/startup"
	"github.com/caas-team/instanceplane/pkg/webhook"
)

// handleCreateInstance resolves the cheapest matching product (falling back
// across configured regions), fetches the template, resolves an optional
// image-auth credential, calls the provider to create the instance, and
// hands off to monitor-instance.
func (d *Deps) handleCreateInstance(ctx context.Context, job *queue.Job) error {
	log := logger.FromContext(ctx)

	id, err := instanceIDOf(job.Payload)
	if err != nil {
		return err
	}
	inst, err := d.Store.Get(id)
	if err != nil {
		return err
	}

	product, err := d.resolveProduct(ctx, inst.Config)
	if err != nil {
		d.failInstance(ctx, id, err)
		return err
	}

	tmpl, err := d.Provider.GetTemplate(ctx, inst.Config.TemplateID)
	if err != nil {
		d.failInstance(ctx, id, err)
		return err
	}

	imageAuth, err := d.resolveImageAuth(ctx, inst.Config.ImageAuthCredID)
	if err != nil {
		d.failInstance(ctx, id, err)
		return err
	}

	req := buildCreateRequest(inst, product, tmpl, imageAuth)

	created, err := d.Provider.CreateInstance(ctx, req)
	if err != nil {
		d.failInstance(ctx, id, err)
		return err
	}

	now := time.Now()
	_, err = d.Store.Update(id, func(i *instance.Instance) error {
		i.ProviderID = created.ID
		i.Status = instance.StatusStarting
		i.Timestamps.Started = &now
		return nil
	})
	if err != nil {
		return err
	}

	if _, startErr := d.Startup.Advance(id, startup.PhaseInstanceStarting); startErr != nil {
		log.WarnContext(ctx, "failed to advance startup operation", "instanceId", id, "error", startErr)
	}

	monitorJob := newJob(queue.TypeMonitorInstance, queue.PriorityHigh, map[string]any{"instanceId": id}, d.Config.Jobs.MaxAttempts)
	if err := d.Queue.Enqueue(ctx, monitorJob); err != nil {
		return err
	}

	return d.enqueueWebhook(ctx, inst.Config.WebhookURL, webhook.Payload{
		InstanceID:       id,
		Status:           webhook.StatusCreatingInitiated,
		Timestamp:        now,
		NovitaInstanceID: created.ID,
	})
}

// resolveProduct picks the product for an instance create: filter
// by name and region (no billing-method filter is applied), pick the
// cheapest available; if none are
// available in the requested region, walk the configured fallback regions
// in priority order.
func (d *Deps) resolveProduct(ctx context.Context, cfg instance.Config) (provider.Product, error) {
	regions := append([]string{cfg.Region}, d.Config.Defaults.RegionFallback...)
	seen := make(map[string]bool, len(regions))

	for _, region := range regions {
		if region == "" || seen[region] {
			continue
		}
		seen[region] = true

		products, err := d.Provider.ListProducts(ctx, provider.ProductFilter{Name: cfg.ProductID, Region: region})
		if err != nil {
			return provider.Product{}, err
		}
		if best, ok := cheapestAvailable(products); ok {
			return best, nil
		}
	}
	return provider.Product{}, errs.ResourceConstraints(fmt.Sprintf("no available product %q in any configured region", cfg.ProductID))
}

func cheapestAvailable(products []provider.Product) (provider.Product, bool) {
	var best provider.Product
	found := false
	for _, p := range products {
		if !p.Available {
			continue
		}
		if !found || p.PricePerHour < best.PricePerHour {
			best = p
			found = true
		}
	}
	return best, found
}

func (d *Deps) resolveImageAuth(ctx context.Context, credID string) (string, error) {
	if credID == "" {
		return "", nil
	}
	auths, err := d.Provider.ListRegistryAuths(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range auths {
		if a.ID == credID {
			return a.Credential(), nil
		}
	}
	return "", errs.NotFound(fmt.Sprintf("registry auth credential %q not found", credID))
}

func buildCreateRequest(inst *instance.Instance, product provider.Product, tmpl *provider.Template, imageAuth string) provider.CreateInstanceRequest {
	image := inst.Config.Image
	if image == "" {
		image = tmpl.Image
	}
	ports := inst.Config.Ports
	if len(ports) == 0 {
		ports = tmpl.Ports
	}
	env := inst.Config.Env
	if len(env) == 0 {
		env = tmpl.Env
	}

	return provider.CreateInstanceRequest{
		Name:         inst.Name,
		ProductID:    product.ID,
		TemplateID:   inst.Config.TemplateID,
		GpuCount:     inst.Config.GpuCount,
		RootfsSizeGB: inst.Config.RootfsSizeGB,
		Image:        image,
		ImageAuth:    imageAuth,
		Ports:        ports,
		Env:          env,
	}
}

// failInstance transitions inst to failed and fires the failed webhook;
// called whenever create-instance cannot proceed past provider resolution.
func (d *Deps) failInstance(ctx context.Context, id string, cause error) {
	log := logger.FromContext(ctx)
	now := time.Now()

	_, err := d.Store.Update(id, func(i *instance.Instance) error {
		i.Status = instance.StatusFailed
		i.LastError = cause.Error()
		i.Timestamps.Failed = &now
		return nil
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to mark instance failed", "instanceId", id, "error", err)
		return
	}
	if _, sErr := d.Startup.Fail(id, cause); sErr != nil {
		log.WarnContext(ctx, "failed to mark startup operation failed", "instanceId", id, "error", sErr)
	}

	inst, err := d.Store.Get(id)
	if err != nil {
		return
	}
	if wErr := d.enqueueWebhook(ctx, inst.Config.WebhookURL, webhook.Payload{
		InstanceID: id,
		Status:     webhook.StatusFailed,
		Timestamp:  now,
		Error:      cause.Error(),
	}); wErr != nil {
		log.WarnContext(ctx, "failed to enqueue failure webhook", "instanceId", id, "error", wErr)
	}
}
