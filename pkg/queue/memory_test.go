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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemory_LeaseOrdersByPriorityThenCreatedAt(t *testing.T) {
	q := NewInMemory(time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, &Job{ID: "low", Priority: PriorityLow, CreatedAt: now, MaxAttempts: 3}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "high-later", Priority: PriorityHigh, CreatedAt: now.Add(time.Second), MaxAttempts: 3}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "high-earlier", Priority: PriorityHigh, CreatedAt: now, MaxAttempts: 3}))

	first, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "high-earlier", first.ID)

	second, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "high-later", second.ID)

	third, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "low", third.ID)

	empty, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestInMemory_ReenqueueWhileProcessingIsNoop(t *testing.T) {
	q := NewInMemory(time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	job := &Job{ID: "a", Priority: PriorityNormal, CreatedAt: time.Now(), MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, job))
	_, err := q.Lease(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, job))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)
	require.Equal(t, 1, stats.Processing)
}

func TestInMemory_FailSchedulesRetryThenFails(t *testing.T) {
	q := NewInMemory(time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()

	job := &Job{ID: "a", Priority: PriorityNormal, CreatedAt: time.Now(), MaxAttempts: 2}
	require.NoError(t, q.Enqueue(ctx, job))
	_, err := q.Lease(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "a", errors.New("boom")))
	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Promote(ctx, time.Hour))

	leased, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "a", leased.ID)

	require.NoError(t, q.Fail(ctx, "a", errors.New("boom again")))
	got, err = q.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 2, got.Attempts)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
}

func TestInMemory_PromoteRecoversStaleProcessing(t *testing.T) {
	q := NewInMemory(time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()

	job := &Job{ID: "a", Priority: PriorityNormal, CreatedAt: time.Now(), MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, job))
	_, err := q.Lease(ctx, "crashed-worker")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Promote(ctx, 5*time.Millisecond))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 0, stats.Processing)

	recovered, err := q.Lease(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "a", recovered.ID)
	require.Equal(t, 1, recovered.Attempts)
}

func TestInMemory_CompleteRequiresProcessing(t *testing.T) {
	q := NewInMemory(time.Millisecond, time.Millisecond)
	err := q.Complete(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotProcessing)
}
