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

package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
)

var (
	ErrMissingApiCredential = errors.New("provider.apiCredential must be set")
	ErrInvalidListenAddress = errors.New("api.address must be set")
	ErrInvalidAutoStop      = errors.New("autostop interval must be between 1 and 60 minutes")
	ErrInvalidMigration     = errors.New("migration interval must be between 1 and 60 minutes")
	ErrInvalidMigrationConc = errors.New("migration.maxConcurrent must be between 1 and 20")
	ErrInvalidHealthCheck   = errors.New("healthcheck configuration is out of the allowed bounds")
	ErrInvalidJobs          = errors.New("jobs.concurrency must be between 1 and 50")
	ErrInvalidStartup       = errors.New("startup.timeoutMs must be between 30s and 30m")
)

// Validate validates the startup configuration, joining every violation
// found so the operator sees the full list in one error.
func (c *Config) Validate(ctx context.Context) (err error) {
	log := logger.FromContext(ctx)

	if c.Provider.ApiCredential == "" {
		log.Error("Provider API credential is missing")
		err = errors.Join(err, ErrMissingApiCredential)
	}

	if c.Api.ListeningAddress == "" {
		log.Error("API listening address is missing")
		err = errors.Join(err, ErrInvalidListenAddress)
	}

	if c.AutoStop.IntervalMinutes < time.Minute || c.AutoStop.IntervalMinutes > 60*time.Minute {
		log.Error("Auto-stop interval is out of bounds", "interval", c.AutoStop.IntervalMinutes)
		err = errors.Join(err, ErrInvalidAutoStop)
	}

	if c.Migration.IntervalMinutes < time.Minute || c.Migration.IntervalMinutes > 60*time.Minute {
		log.Error("Migration interval is out of bounds", "interval", c.Migration.IntervalMinutes)
		err = errors.Join(err, ErrInvalidMigration)
	}
	if c.Migration.MaxConcurrent < 1 || c.Migration.MaxConcurrent > 20 {
		log.Error("Migration max concurrent is out of bounds", "maxConcurrent", c.Migration.MaxConcurrent)
		err = errors.Join(err, ErrInvalidMigrationConc)
	}

	if vErr := c.HealthCheck.validate(); vErr != nil {
		log.Error("Health-check configuration is invalid", "error", vErr)
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrInvalidHealthCheck, vErr))
	}

	if c.Jobs.Concurrency < 1 || c.Jobs.Concurrency > 50 {
		log.Error("Job concurrency is out of bounds", "concurrency", c.Jobs.Concurrency)
		err = errors.Join(err, ErrInvalidJobs)
	}

	if c.Startup.Timeout < 30*time.Second || c.Startup.Timeout > 30*time.Minute {
		log.Error("Startup timeout is out of bounds", "timeout", c.Startup.Timeout)
		err = errors.Join(err, ErrInvalidStartup)
	}

	if err != nil {
		return fmt.Errorf("validation of configuration failed: %w", err)
	}
	return nil
}

// validate checks the health-check default bounds.
func (h HealthCheckConfig) validate() error {
	var err error
	if h.TimeoutPerCheck < time.Second || h.TimeoutPerCheck > 300*time.Second {
		err = errors.Join(err, errors.New("timeoutPerCheckMs must be within [1000, 300000]"))
	}
	if h.RetryAttempts < 0 || h.RetryAttempts > 10 {
		err = errors.Join(err, errors.New("retryAttempts must be within [0, 10]"))
	}
	if h.RetryDelay < 100*time.Millisecond || h.RetryDelay > 30*time.Second {
		err = errors.Join(err, errors.New("retryDelayMs must be within [100, 30000]"))
	}
	if h.MaxWaitTime < 30*time.Second || h.MaxWaitTime > 30*time.Minute {
		err = errors.Join(err, errors.New("maxWaitTimeMs must be within [30000, 1800000]"))
	}
	return err
}
