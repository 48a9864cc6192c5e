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

// Package webhook delivers typed instance lifecycle events to a
// caller-supplied URL, HMAC-signed, best-effort.
package webhook

import "time"

// Status is one of the lifecycle event kinds delivered to webhook
// subscribers.
type Status string

const (
	StatusCreatingInitiated Status = "creating-initiated"
	StatusRunning           Status = "running"
	StatusHealthChecking    Status = "health_checking"
	StatusReady             Status = "ready"
	StatusFailed            Status = "failed"
	StatusTimeout           Status = "timeout"
	StatusStopped           Status = "stopped"
	StatusMigrated          Status = "migrated"
)

// HealthCheckSummary is the optional health-check aggregate attached to
// health_checking/ready/failed payloads.
type HealthCheckSummary struct {
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Details []string `json:"details,omitempty"`
}

// Payload is the canonical body of every webhook request.
type Payload struct {
	InstanceID        string              `json:"instanceId"`
	Status            Status              `json:"status"`
	Timestamp         time.Time           `json:"timestamp"`
	NovitaInstanceID  string              `json:"novitaInstanceId,omitempty"`
	ElapsedTime       *int64              `json:"elapsedTime,omitempty"`
	Data              map[string]any      `json:"data,omitempty"`
	Error             string              `json:"error,omitempty"`
	HealthCheck       *HealthCheckSummary `json:"healthCheck,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	OriginalInstanceID string             `json:"originalInstanceId,omitempty"`
}
