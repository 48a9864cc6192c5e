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

// Package instance holds the internal instance record, its lifecycle, and
// the state store that owns it exclusively.
package instance

import (
	"regexp"
	"time"

	"github.com/caas-team/instanceplane/pkg/provider"
)

// Status is a point in the instance lifecycle.
type Status string

const (
	StatusCreating       Status = "creating"
	StatusCreated        Status = "created"
	StatusStarting       Status = "starting"
	StatusRunning        Status = "running"
	StatusHealthChecking Status = "health_checking"
	StatusReady          Status = "ready"
	StatusStopping       Status = "stopping"
	StatusStopped        Status = "stopped"
	StatusTerminated     Status = "terminated"
	StatusFailed         Status = "failed"
	StatusExited         Status = "exited"
	StatusMigrating      Status = "migrating"
)

// Terminal reports whether s is a terminal lifecycle state: no further
// transitions are expected without an explicit new start/create request.
func (s Status) Terminal() bool {
	switch s {
	case StatusTerminated, StatusFailed, StatusExited:
		return true
	default:
		return false
	}
}

// NamePattern is the validation pattern for user-supplied instance names.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// EnvVar is an alias of provider.EnvVar, so the internal model uses the
// provider wire type itself.
type EnvVar = provider.EnvVar

// Config is the immutable, post-create configuration snapshot.
type Config struct {
	ProductID          string
	TemplateID         provider.TemplateID
	GpuCount           int
	RootfsSizeGB       int
	Region             string
	Image              string
	ImageAuthCredID    string
	Ports              []provider.PortSpec
	Env                []EnvVar
	WebhookURL         string
}

// HealthCheckAttempt is a single endpoint probe result.
type HealthCheckAttempt struct {
	Port         int           `json:"port"`
	URL          string        `json:"url"`
	Transport    string        `json:"transport"`
	Status       string        `json:"status"`
	LastChecked  time.Time     `json:"lastChecked"`
	ResponseTime time.Duration `json:"responseTimeMs"`
	Error        string        `json:"error,omitempty"`
}

// HealthCheck is the mutable health-check block, exclusively owned by the
// monitor-instance worker for this instance.
type HealthCheck struct {
	Phase      string                `json:"phase"`
	Attempts   []HealthCheckAttempt  `json:"attempts"`
	StartedAt  *time.Time            `json:"startedAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
	Aggregate  string                `json:"aggregate,omitempty"`
}

// Timestamps collects every lifecycle timestamp of an instance.
type Timestamps struct {
	Created    time.Time  `json:"created"`
	Started    *time.Time `json:"started,omitempty"`
	Running    *time.Time `json:"running,omitempty"`
	Ready      *time.Time `json:"ready,omitempty"`
	Failed     *time.Time `json:"failed,omitempty"`
	Stopping   *time.Time `json:"stopping,omitempty"`
	Stopped    *time.Time `json:"stopped,omitempty"`
	Terminated *time.Time `json:"terminated,omitempty"`
	LastUsed   time.Time  `json:"lastUsed"`
}

// Instance is the internal, control-plane-owned record of a GPU workload.
type Instance struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProviderID string `json:"providerId,omitempty"`
	Status     Status `json:"status"`

	Config Config `json:"config"`

	Timestamps Timestamps   `json:"timestamps"`
	LastError  string       `json:"lastError,omitempty"`
	HealthCheck *HealthCheck `json:"healthCheck,omitempty"`

	// LastSyncedAt is set whenever comprehensive listing reconciles this
	// record against a provider snapshot.
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
}
