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

// Package queue implements the durable job queue backing the worker pool:
// a priority/creation-ordered pending set, a retry set, a processing hash,
// and capped completed/failed history.
package queue

import "time"

// Type identifies what a Job does; pkg/jobs holds one handler per Type.
type Type string

const (
	TypeCreateInstance       Type = "create-instance"
	TypeMonitorInstance      Type = "monitor-instance"
	TypeSendWebhook          Type = "send-webhook"
	TypeAutoStopCheck        Type = "auto-stop-check"
	TypeMigrateSpot          Type = "migrate-spot"
	TypeFailedMigrationRetry Type = "failed-migration-retry"
)

// Priority orders pending jobs; higher values are leased first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a single unit of durable work. Payload is opaque to the queue;
// handlers in pkg/jobs interpret it according to Type.
type Job struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Priority   Priority       `json:"priority"`
	Payload    map[string]any `json:"payload"`
	Status     Status         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	LastError  string         `json:"lastError,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	WorkerID string `json:"workerId,omitempty"`
}

// rank computes the priority-then-creation ordering score used by Lease:
// higher priority sorts first; within the same priority, earlier
// CreatedAt sorts first.
func (j Job) rank() int64 {
	const maxCreatedAtMs = int64(1) << 62
	return int64(j.Priority)*1_000_000_000_000 + (maxCreatedAtMs - j.CreatedAt.UnixMilli())
}
