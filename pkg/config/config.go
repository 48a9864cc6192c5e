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

// Package config holds the control plane's startup configuration, bound
// from environment variables and flags via viper/cobra.
package config

import "time"

// Config is the top level configuration of the control plane.
type Config struct {
	// Api is the configuration of the HTTP listener.
	Api ApiConfig `mapstructure:"api"`
	// Provider is the configuration of the outbound provider HTTP client.
	Provider ProviderConfig `mapstructure:"provider"`
	// Webhook is the configuration of the webhook dispatcher.
	Webhook WebhookConfig `mapstructure:"webhook"`
	// Defaults holds values applied to omitted fields on instance create.
	Defaults DefaultsConfig `mapstructure:"defaults"`
	// AutoStop is the configuration of the auto-stop scheduler.
	AutoStop AutoStopConfig `mapstructure:"autostop"`
	// Migration is the configuration of the migration scheduler.
	Migration MigrationConfig `mapstructure:"migration"`
	// HealthCheck holds the default health-check policy.
	HealthCheck HealthCheckConfig `mapstructure:"healthcheck"`
	// Startup configures the startup state machine's overall timeout.
	Startup StartupConfig `mapstructure:"startup"`
	// Cache holds the per-resource cache TTLs.
	Cache CacheConfig `mapstructure:"cache"`
	// Jobs is the configuration of the worker pool and queue.
	Jobs JobsConfig `mapstructure:"jobs"`
}

// ApiConfig configures the HTTP listener.
type ApiConfig struct {
	ListeningAddress string `mapstructure:"address"`
}

// ProviderConfig configures the outbound provider HTTP client.
type ProviderConfig struct {
	// ApiCredential authenticates outbound provider calls (bearer token).
	ApiCredential string `mapstructure:"apiCredential"`
	// BaseURL overrides the default provider endpoint.
	BaseURL string `mapstructure:"baseUrl"`
	// RequestTimeout is the default timeout for outbound HTTP calls.
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// MaxRetries is the retry budget per provider call.
	MaxRetries int `mapstructure:"maxRetries"`
	// RetryBaseDelay is the initial retry backoff delay.
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	// RetryMaxDelay caps the exponential backoff delay.
	RetryMaxDelay time.Duration `mapstructure:"retryMaxDelay"`
	// CircuitBreakerThreshold is the number of failures within
	// CircuitBreakerWindow that opens the breaker; a success does not reset
	// the count.
	CircuitBreakerThreshold int `mapstructure:"circuitBreakerThreshold"`
	// CircuitBreakerWindow bounds the window the failures must occur in.
	CircuitBreakerWindow time.Duration `mapstructure:"circuitBreakerWindow"`
	// CircuitBreakerTimeout is the recovery timeout before a half-open probe.
	CircuitBreakerTimeout time.Duration `mapstructure:"circuitBreakerTimeout"`
	// RateLimitWindow and RateLimitMaxRequests throttle outbound calls.
	RateLimitWindow      time.Duration `mapstructure:"rateLimitWindow"`
	RateLimitMaxRequests int           `mapstructure:"rateLimitMaxRequests"`
}

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"maxRetries"`
	Secret     string        `mapstructure:"secret"`
}

// DefaultsConfig holds values applied to omitted fields on instance create.
type DefaultsConfig struct {
	Region         string   `mapstructure:"region"`
	GpuCount       int      `mapstructure:"gpuCount"`
	RootfsSizeGB   int      `mapstructure:"rootfsSizeGb"`
	RegionFallback []string `mapstructure:"regionFallback"`
}

// AutoStopConfig configures the auto-stop scheduler.
type AutoStopConfig struct {
	Enabled                   bool          `mapstructure:"enabled"`
	IntervalMinutes           time.Duration `mapstructure:"intervalMinutes"`
	InactivityThresholdMinute time.Duration `mapstructure:"inactivityThresholdMinutes"`
	DryRun                    bool          `mapstructure:"dryRun"`
}

// MigrationConfig configures the migration scheduler.
type MigrationConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	IntervalMinutes       time.Duration `mapstructure:"intervalMinutes"`
	JobTimeout            time.Duration `mapstructure:"jobTimeout"`
	MaxConcurrent         int           `mapstructure:"maxConcurrent"`
	DryRun                bool          `mapstructure:"dryRun"`
	RetryFailedMigrations bool          `mapstructure:"retryFailedMigrations"`
	LogLevel              string        `mapstructure:"logLevel"`
}

// HealthCheckConfig holds the default health-check policy, overridable
// per startup request.
type HealthCheckConfig struct {
	TimeoutPerCheck time.Duration `mapstructure:"timeoutPerCheckMs"`
	RetryAttempts   int           `mapstructure:"retryAttempts"`
	RetryDelay      time.Duration `mapstructure:"retryDelayMs"`
	MaxWaitTime     time.Duration `mapstructure:"maxWaitTimeMs"`
}

// StartupConfig bounds the startup state machine's overall wall clock,
// covering provider startup plus health checks unless overridden per
// request by healthCheckConfig.maxWaitTimeMs.
type StartupConfig struct {
	Timeout time.Duration `mapstructure:"timeoutMs"`
}

// CacheConfig holds per-resource cache TTLs.
type CacheConfig struct {
	Products  time.Duration `mapstructure:"products"`
	Templates time.Duration `mapstructure:"templates"`
	Instances time.Duration `mapstructure:"instances"`
}

// JobsConfig configures the worker pool and retry policy of the durable
// job queue.
type JobsConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BackoffBase  time.Duration `mapstructure:"backoffBase"`
	BackoffMax   time.Duration `mapstructure:"backoffMax"`
	ProcessingTO time.Duration `mapstructure:"processingTimeout"`
}

// NewConfig returns a Config populated with the documented defaults.
func NewConfig() *Config {
	return &Config{
		Api: ApiConfig{ListeningAddress: ":8080"},
		Provider: ProviderConfig{
			BaseURL:                 "https://api.novita.ai",
			RequestTimeout:          30 * time.Second,
			MaxRetries:              3,
			RetryBaseDelay:          time.Second,
			RetryMaxDelay:           30 * time.Second,
			CircuitBreakerThreshold: 5,
			CircuitBreakerWindow:    time.Minute,
			CircuitBreakerTimeout:   30 * time.Second,
			RateLimitWindow:         time.Second,
			RateLimitMaxRequests:    10,
		},
		Webhook: WebhookConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Defaults: DefaultsConfig{
			Region:       "us-west-1",
			GpuCount:     1,
			RootfsSizeGB: 60,
		},
		AutoStop: AutoStopConfig{
			Enabled:                   true,
			IntervalMinutes:           5 * time.Minute,
			InactivityThresholdMinute: 20 * time.Minute,
			DryRun:                    true,
		},
		Migration: MigrationConfig{
			Enabled:               true,
			IntervalMinutes:       15 * time.Minute,
			JobTimeout:            5 * time.Minute,
			MaxConcurrent:         5,
			RetryFailedMigrations: true,
			LogLevel:              "info",
		},
		HealthCheck: HealthCheckConfig{
			TimeoutPerCheck: 5 * time.Second,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			MaxWaitTime:     5 * time.Minute,
		},
		Startup: StartupConfig{
			Timeout: 10 * time.Minute,
		},
		Cache: CacheConfig{
			Products:  5 * time.Minute,
			Templates: 10 * time.Minute,
			Instances: 10 * time.Second,
		},
		Jobs: JobsConfig{
			Concurrency:  5,
			MaxAttempts:  5,
			BackoffBase:  time.Second,
			BackoffMax:   30 * time.Second,
			ProcessingTO: 5 * time.Minute,
		},
	}
}
