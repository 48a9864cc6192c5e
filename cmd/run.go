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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/config"
	"github.com/caas-team/instanceplane/pkg/controlplane"
)

// NewCmdRun creates a new run command
func NewCmdRun() *cobra.Command {
	defaults := config.NewConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control plane",
		Long:  `Starts the control plane API, job workers and schedulers with the provided configuration`,
		RunE:  run(),
	}

	NewFlag("api.address", "apiAddress").String().Bind(cmd, defaults.Api.ListeningAddress, "api: the address the server listens on")

	NewFlag("provider.apiCredential", "providerApiCredential").String().Bind(cmd, defaults.Provider.ApiCredential, "provider: bearer token used to authenticate outbound provider calls")
	NewFlag("provider.baseUrl", "providerBaseUrl").String().Bind(cmd, defaults.Provider.BaseURL, "provider: base URL of the provider API")
	NewFlag("provider.requestTimeout", "providerRequestTimeout").Duration().Bind(cmd, defaults.Provider.RequestTimeout, "provider: timeout applied to a single outbound request")
	NewFlag("provider.maxRetries", "providerMaxRetries").Int().Bind(cmd, defaults.Provider.MaxRetries, "provider: retry budget for a failed outbound request")
	NewFlag("provider.retryBaseDelay", "providerRetryBaseDelay").Duration().Bind(cmd, defaults.Provider.RetryBaseDelay, "provider: initial retry backoff delay")
	NewFlag("provider.retryMaxDelay", "providerRetryMaxDelay").Duration().Bind(cmd, defaults.Provider.RetryMaxDelay, "provider: cap on the exponential retry backoff delay")
	NewFlag("provider.circuitBreakerThreshold", "providerCircuitBreakerThreshold").Int().Bind(cmd, defaults.Provider.CircuitBreakerThreshold, "provider: failures within the breaker window that open the breaker")
	NewFlag("provider.circuitBreakerWindow", "providerCircuitBreakerWindow").Duration().Bind(cmd, defaults.Provider.CircuitBreakerWindow, "provider: window the failure count must occur within")
	NewFlag("provider.circuitBreakerTimeout", "providerCircuitBreakerTimeout").Duration().Bind(cmd, defaults.Provider.CircuitBreakerTimeout, "provider: recovery timeout before a half-open probe")
	NewFlag("provider.rateLimitWindow", "providerRateLimitWindow").Duration().Bind(cmd, defaults.Provider.RateLimitWindow, "provider: outbound rate-limit window")
	NewFlag("provider.rateLimitMaxRequests", "providerRateLimitMaxRequests").Int().Bind(cmd, defaults.Provider.RateLimitMaxRequests, "provider: max outbound requests per rate-limit window")

	NewFlag("webhook.timeout", "webhookTimeout").Duration().Bind(cmd, defaults.Webhook.Timeout, "webhook: timeout applied to a single delivery attempt")
	NewFlag("webhook.maxRetries", "webhookMaxRetries").Int().Bind(cmd, defaults.Webhook.MaxRetries, "webhook: delivery retry budget")
	NewFlag("webhook.secret", "webhookSecret").String().Bind(cmd, defaults.Webhook.Secret, "webhook: HMAC secret used to sign delivered payloads")

	NewFlag("defaults.region", "defaultsRegion").String().Bind(cmd, defaults.Defaults.Region, "defaults: region applied when an instance create omits one")
	NewFlag("defaults.gpuCount", "defaultsGpuCount").Int().Bind(cmd, defaults.Defaults.GpuCount, "defaults: GPU count applied when an instance create omits one")
	NewFlag("defaults.rootfsSizeGb", "defaultsRootfsSizeGb").Int().Bind(cmd, defaults.Defaults.RootfsSizeGB, "defaults: root filesystem size in GB applied when an instance create omits one")
	NewFlag("defaults.regionFallback", "defaultsRegionFallback").StringSlice().Bind(cmd, defaults.Defaults.RegionFallback, "defaults: ordered regions tried when the requested region has no capacity")

	NewFlag("autostop.enabled", "autoStopEnabled").Bool().Bind(cmd, defaults.AutoStop.Enabled, "autostop: enable the idle instance auto-stop scheduler")
	NewFlag("autostop.intervalMinutes", "autoStopInterval").Duration().Bind(cmd, defaults.AutoStop.IntervalMinutes, "autostop: sweep interval")
	NewFlag("autostop.inactivityThresholdMinutes", "autoStopInactivityThreshold").Duration().Bind(cmd, defaults.AutoStop.InactivityThresholdMinute, "autostop: idle duration after which a running instance is stopped")
	NewFlag("autostop.dryRun", "autoStopDryRun").Bool().Bind(cmd, defaults.AutoStop.DryRun, "autostop: log candidates without stopping them")

	NewFlag("migration.enabled", "migrationEnabled").Bool().Bind(cmd, defaults.Migration.Enabled, "migration: enable the spot-reclaim migration scheduler")
	NewFlag("migration.intervalMinutes", "migrationInterval").Duration().Bind(cmd, defaults.Migration.IntervalMinutes, "migration: sweep interval")
	NewFlag("migration.jobTimeout", "migrationJobTimeout").Duration().Bind(cmd, defaults.Migration.JobTimeout, "migration: per-instance migration timeout")
	NewFlag("migration.maxConcurrent", "migrationMaxConcurrent").Int().Bind(cmd, defaults.Migration.MaxConcurrent, "migration: max instances migrated concurrently")
	NewFlag("migration.dryRun", "migrationDryRun").Bool().Bind(cmd, defaults.Migration.DryRun, "migration: log candidates without enqueuing migration jobs")
	NewFlag("migration.retryFailedMigrations", "migrationRetryFailed").Bool().Bind(cmd, defaults.Migration.RetryFailedMigrations, "migration: retry migrations that previously failed")
	NewFlag("migration.logLevel", "migrationLogLevel").String().Bind(cmd, defaults.Migration.LogLevel, "migration: log level used for migration sweep reporting")

	NewFlag("healthcheck.timeoutPerCheckMs", "healthCheckTimeoutPerCheck").Duration().Bind(cmd, defaults.HealthCheck.TimeoutPerCheck, "healthcheck: timeout per individual check")
	NewFlag("healthcheck.retryAttempts", "healthCheckRetryAttempts").Int().Bind(cmd, defaults.HealthCheck.RetryAttempts, "healthcheck: retry attempts per check")
	NewFlag("healthcheck.retryDelayMs", "healthCheckRetryDelay").Duration().Bind(cmd, defaults.HealthCheck.RetryDelay, "healthcheck: delay between check retries")
	NewFlag("healthcheck.maxWaitTimeMs", "healthCheckMaxWaitTime").Duration().Bind(cmd, defaults.HealthCheck.MaxWaitTime, "healthcheck: overall cap on health-check wait time")

	NewFlag("startup.timeoutMs", "startupTimeout").Duration().Bind(cmd, defaults.Startup.Timeout, "startup: overall timeout covering provider startup plus health checks")

	NewFlag("cache.products", "cacheProducts").Duration().Bind(cmd, defaults.Cache.Products, "cache: TTL for the product catalog")
	NewFlag("cache.templates", "cacheTemplates").Duration().Bind(cmd, defaults.Cache.Templates, "cache: TTL for templates")
	NewFlag("cache.instances", "cacheInstances").Duration().Bind(cmd, defaults.Cache.Instances, "cache: TTL for registry-auth entries (the provider-side instance listing is not cached)")

	NewFlag("jobs.concurrency", "jobsConcurrency").Int().Bind(cmd, defaults.Jobs.Concurrency, "jobs: number of concurrent workers draining the queue")
	NewFlag("jobs.maxAttempts", "jobsMaxAttempts").Int().Bind(cmd, defaults.Jobs.MaxAttempts, "jobs: max attempts before a job is dead-lettered")
	NewFlag("jobs.backoffBase", "jobsBackoffBase").Duration().Bind(cmd, defaults.Jobs.BackoffBase, "jobs: initial retry backoff delay")
	NewFlag("jobs.backoffMax", "jobsBackoffMax").Duration().Bind(cmd, defaults.Jobs.BackoffMax, "jobs: cap on the exponential retry backoff delay")
	NewFlag("jobs.processingTimeout", "jobsProcessingTimeout").Duration().Bind(cmd, defaults.Jobs.ProcessingTO, "jobs: time a worker may hold a job before it's considered stuck")

	return cmd
}

// run is the entry point that starts the control plane
func run() func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		cfg := &config.Config{}
		err := viper.Unmarshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		ctx, cancel := logger.NewContextWithLogger(context.Background())
		log := logger.FromContext(ctx)
		defer cancel()

		if err = cfg.Validate(ctx); err != nil {
			return fmt.Errorf("error while validating the config: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		cp := controlplane.New(cfg)
		cErr := make(chan error, 1)
		log.InfoContext(ctx, "Starting control plane")
		go func() {
			cErr <- cp.Run(ctx)
		}()

		select {
		case <-sigChan:
			log.InfoContext(ctx, "Signal received, shutting down")
			cancel()
			<-cErr
		case err = <-cErr:
			log.InfoContext(ctx, "Control plane was shut down")
			return err
		}

		return nil
	}
}
