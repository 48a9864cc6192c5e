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

package queue

import (
	"context"
	"time"
)

// Stats aggregates queue-wide counters across the pending, retry,
// processing, completed and failed sets.
type Stats struct {
	Pending    int `json:"pending"`
	Retry      int `json:"retry"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Backend is the durable job queue's storage contract: a priority/creation
// ordered pending set, a retry set, a processing hash, and capped
// completed/failed history. Any KV store with sorted-set and hash
// primitives can implement it; the in-memory reference
// implementation in this package is one such backend, swappable for, e.g.,
// Redis ZSETs behind this same interface.
type Backend interface {
	// Enqueue stores the job's data and adds it to the pending set.
	// Re-enqueuing an ID that is already processing is a no-op (dedup).
	Enqueue(ctx context.Context, job *Job) error

	// Lease atomically pops the highest-ranked pending job, moves it to
	// the processing set with StartedAt=now, and returns it. Returns
	// (nil, nil) when no work is ready.
	Lease(ctx context.Context, workerID string) (*Job, error)

	// Complete removes id from processing, marks it completed, and
	// appends it to the capped completed history.
	Complete(ctx context.Context, id string) error

	// Fail removes id from processing. If attempts remain, schedules a
	// retry with capped exponential backoff and jitter; otherwise marks
	// the job failed and appends it to the capped failed history.
	Fail(ctx context.Context, id string, cause error) error

	// Promote moves due retry entries back into the pending set and
	// recovers processing entries that have exceeded the stale threshold
	// (crash recovery), re-enqueuing them as the next attempt.
	Promote(ctx context.Context, staleThreshold time.Duration) error

	// Get returns the current record for id, regardless of which set it
	// is in.
	Get(ctx context.Context, id string) (*Job, error)

	// Stats reports aggregate counters across all sets.
	Stats(ctx context.Context) (Stats, error)
}
