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
	"math"
	"math/rand"
	"sync"
	"time"
)

const historyCap = 500

var _ Backend = (*InMemory)(nil)

// InMemory is the reference Backend: plain maps guarded by one mutex rather
// than a sync.Map, since Lease needs an atomic "pop highest rank" operation;
// Lease finds that job by scanning the pending set. A production deployment swaps
// this for Redis ZSETs behind the same Backend interface.
type InMemory struct {
	mu sync.Mutex

	data       map[string]*Job
	pending    map[string]struct{}
	retryAt    map[string]time.Time
	processing map[string]time.Time

	completed []string
	failed    []string

	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewInMemory creates an empty in-memory queue backend.
func NewInMemory(backoffBase, backoffMax time.Duration) *InMemory {
	return &InMemory{
		data:        make(map[string]*Job),
		pending:     make(map[string]struct{}),
		retryAt:     make(map[string]time.Time),
		processing:  make(map[string]time.Time),
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

func (m *InMemory) Enqueue(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, processing := m.processing[job.ID]; processing {
		return nil // re-enqueuing an already-processing job is a no-op (dedup).
	}

	cp := *job
	cp.Status = StatusPending
	m.data[job.ID] = &cp
	m.pending[job.ID] = struct{}{}
	delete(m.retryAt, job.ID)
	return nil
}

func (m *InMemory) Lease(_ context.Context, workerID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bestID string
	var bestRank int64
	first := true
	for id := range m.pending {
		job := m.data[id]
		rank := job.rank()
		if first || rank > bestRank {
			bestID, bestRank = id, rank
			first = false
		}
	}
	if first {
		return nil, nil
	}

	delete(m.pending, bestID)
	now := time.Now()
	m.processing[bestID] = now

	job := m.data[bestID]
	job.Status = StatusProcessing
	job.StartedAt = &now
	job.WorkerID = workerID

	cp := *job
	return &cp, nil
}

func (m *InMemory) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processing[id]; !ok {
		return ErrNotProcessing
	}
	delete(m.processing, id)

	job, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	job.Status = StatusCompleted
	job.ProcessedAt = &now
	job.CompletedAt = &now

	m.completed = appendCapped(m.completed, id, historyCap)
	return nil
}

func (m *InMemory) Fail(_ context.Context, id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processing[id]; !ok {
		return ErrNotProcessing
	}
	delete(m.processing, id)

	job, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}

	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	now := time.Now()
	job.ProcessedAt = &now

	if job.Attempts < job.MaxAttempts {
		delay := capBackoff(m.backoffBase, m.backoffMax, job.Attempts)
		retryAt := now.Add(delay)
		job.NextRetryAt = &retryAt
		job.Status = StatusPending
		m.retryAt[id] = retryAt
		return nil
	}

	job.Status = StatusFailed
	job.CompletedAt = &now
	m.failed = appendCapped(m.failed, id, historyCap)
	return nil
}

func (m *InMemory) Promote(_ context.Context, staleThreshold time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, at := range m.retryAt {
		if !at.After(now) {
			delete(m.retryAt, id)
			m.pending[id] = struct{}{}
		}
	}

	for id, startedAt := range m.processing {
		if now.Sub(startedAt) < staleThreshold {
			continue
		}
		delete(m.processing, id)
		job := m.data[id]
		if job == nil {
			continue
		}
		job.Attempts++
		if job.Attempts >= job.MaxAttempts {
			completedAt := now
			job.Status = StatusFailed
			job.CompletedAt = &completedAt
			m.failed = appendCapped(m.failed, id, historyCap)
			continue
		}
		job.Status = StatusPending
		m.pending[id] = struct{}{}
	}
	return nil
}

func (m *InMemory) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *InMemory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Pending:    len(m.pending),
		Retry:      len(m.retryAt),
		Processing: len(m.processing),
		Completed:  len(m.completed),
		Failed:     len(m.failed),
	}, nil
}

func appendCapped(list []string, id string, limit int) []string {
	list = append(list, id)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// capBackoff computes min(base*2^(attempts-1), max) plus up to 20% jitter,
// matching the Fail contract.
func capBackoff(base, maxDelay time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
