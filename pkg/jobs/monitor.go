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
	"github.com/caas-team/instanceplane/pkg/healthcheck"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/caas-team/instanceplane/pkg/startup"
	"github.com/caas-team/instanceplane/pkg/webhook"
)

// monitorPollInterval spaces get-instance polls; the provider API gives no
// push notification for instance readiness, so this is a plain poll loop.
const monitorPollInterval = 5 * time.Second

var terminalProviderStatuses = map[string]bool{
	"exited": true,
	"failed": true,
}

// handleMonitorInstance polls the provider until the instance is running or
// terminal, then runs the health-check engine, emitting the running /
// health_checking / ready / failed / timeout webhooks along the way.
func (d *Deps) handleMonitorInstance(ctx context.Context, job *queue.Job) error {
	log := logger.FromContext(ctx)

	id, err := instanceIDOf(job.Payload)
	if err != nil {
		return err
	}
	inst, err := d.Store.Get(id)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(d.Config.Startup.Timeout)
	if op, opErr := d.Startup.Get(id); opErr == nil {
		deadline = op.DeadlineFor(startup.PhaseInstanceRunning)
	}

	pinst, err := d.pollUntilRunningOrTerminal(ctx, inst.ProviderID, deadline)
	if err != nil {
		d.failInstance(ctx, id, err)
		return nil // terminal outcome recorded; nothing left to retry
	}
	if pinst == nil {
		timeoutErr := errs.ProviderTimeout("instance did not reach running before the startup deadline")
		d.failInstance(ctx, id, timeoutErr)
		return nil
	}

	if terminalProviderStatuses[pinst.Status] {
		d.failInstance(ctx, id, fmt.Errorf("provider reported terminal status %q while starting", pinst.Status))
		return nil
	}

	runningAt := time.Now()
	if _, err := d.Store.Update(id, func(i *instance.Instance) error {
		i.Status = instance.StatusRunning
		i.Timestamps.Running = &runningAt
		return nil
	}); err != nil {
		return err
	}
	if err := d.enqueueWebhook(ctx, inst.Config.WebhookURL, webhook.Payload{
		InstanceID: id, Status: webhook.StatusRunning, Timestamp: runningAt,
	}); err != nil {
		log.WarnContext(ctx, "failed to enqueue running webhook", "instanceId", id, "error", err)
	}

	if _, err := d.Store.Update(id, func(i *instance.Instance) error {
		i.Status = instance.StatusHealthChecking
		return nil
	}); err != nil {
		return err
	}
	if _, err := d.Startup.Advance(id, startup.PhaseHealthCheckStarted); err != nil {
		log.WarnContext(ctx, "failed to advance startup operation", "instanceId", id, "error", err)
	}

	endpoints := endpointsFor(inst, pinst)
	hcCfg := healthcheck.Config{
		TimeoutPerCheck: d.Config.HealthCheck.TimeoutPerCheck,
		RetryAttempts:   d.Config.HealthCheck.RetryAttempts,
		RetryDelay:      d.Config.HealthCheck.RetryDelay,
		MaxWaitTime:     d.Config.HealthCheck.MaxWaitTime,
	}
	engine := healthcheck.NewEngine(hcCfg)

	result := engine.Run(ctx, endpoints, func(pending []healthcheck.Endpoint) {
		d.onHealthCheckStart(ctx, inst, pending)
	})

	return d.finishHealthCheck(ctx, id, inst.Config.WebhookURL, result)
}

// pollUntilRunningOrTerminal returns the first provider snapshot whose
// status is "running" or terminal, or (nil, nil) if deadline passes first.
func (d *Deps) pollUntilRunningOrTerminal(ctx context.Context, providerID string, deadline time.Time) (*provider.Instance, error) {
	for {
		pinst, err := d.Provider.GetInstance(ctx, providerID)
		if err != nil {
			return nil, err
		}
		if pinst.Status == "running" || terminalProviderStatuses[pinst.Status] {
			return pinst, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(monitorPollInterval):
		}
	}
}

func endpointsFor(inst *instance.Instance, pinst *provider.Instance) []healthcheck.Endpoint {
	ports := inst.Config.Ports
	endpoints := make([]healthcheck.Endpoint, 0, len(ports))
	for _, p := range ports {
		endpoints = append(endpoints, healthcheck.Endpoint{
			Port:      p.Port,
			Host:      pinst.PublicIP,
			Transport: p.Type,
		})
	}
	return endpoints
}

func (d *Deps) onHealthCheckStart(ctx context.Context, inst *instance.Instance, pending []healthcheck.Endpoint) {
	log := logger.FromContext(ctx)
	details := make([]string, 0, len(pending))
	for _, e := range pending {
		details = append(details, e.URL()+" pending")
	}
	if err := d.enqueueWebhook(ctx, inst.Config.WebhookURL, webhook.Payload{
		InstanceID: inst.ID,
		Status:     webhook.StatusHealthChecking,
		Timestamp:  time.Now(),
		HealthCheck: &webhook.HealthCheckSummary{
			Total:   len(pending),
			Details: details,
		},
	}); err != nil {
		log.WarnContext(ctx, "failed to enqueue health_checking webhook", "instanceId", inst.ID, "error", err)
	}
}

func (d *Deps) finishHealthCheck(ctx context.Context, id, webhookURL string, result healthcheck.Result) error {
	now := time.Now()
	attempts := make([]instance.HealthCheckAttempt, 0, len(result.Attempts))
	summary := &webhook.HealthCheckSummary{Total: len(result.Attempts)}
	for _, a := range result.Attempts {
		attempts = append(attempts, instance.HealthCheckAttempt{
			Port: a.Port, URL: a.URL, Transport: a.Transport,
			Status: string(a.Status), LastChecked: a.LastChecked,
			ResponseTime: a.ResponseTime, Error: a.Error,
		})
		if a.Status == healthcheck.AttemptHealthy {
			summary.Passed++
		} else {
			summary.Failed++
			if a.Error != "" {
				summary.Details = append(summary.Details, a.URL+": "+a.Error)
			}
		}
	}

	_, err := d.Store.Update(id, func(i *instance.Instance) error {
		i.HealthCheck = &instance.HealthCheck{
			Phase:       string(result.Verdict),
			Attempts:    attempts,
			CompletedAt: &now,
			Aggregate:   string(result.Aggregate),
		}
		if result.Verdict == healthcheck.VerdictHealthy {
			i.Status = instance.StatusReady
			i.Timestamps.Ready = &now
		} else {
			i.Status = instance.StatusFailed
			i.Timestamps.Failed = &now
			i.LastError = "health check " + string(result.Verdict)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if result.Verdict == healthcheck.VerdictHealthy {
		if _, err := d.Startup.Advance(id, startup.PhaseReady); err != nil {
			logger.FromContext(ctx).WarnContext(ctx, "failed to advance startup operation to ready", "instanceId", id, "error", err)
		}
		return d.enqueueWebhook(ctx, webhookURL, webhook.Payload{
			InstanceID: id, Status: webhook.StatusReady, Timestamp: now, HealthCheck: summary,
		})
	}

	if _, err := d.Startup.Fail(id, errs.HealthCheckFailed(string(result.Verdict))); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "failed to mark startup operation failed", "instanceId", id, "error", err)
	}
	status := webhook.StatusFailed
	if result.Verdict == healthcheck.VerdictTimeout {
		status = webhook.StatusTimeout
	}
	return d.enqueueWebhook(ctx, webhookURL, webhook.Payload{
		InstanceID: id, Status: status, Timestamp: now, HealthCheck: summary,
	})
}
