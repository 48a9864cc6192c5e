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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/stretchr/testify/require"
)

func TestWorkerName_StableForDoubleDigitIndices(t *testing.T) {
	require.Equal(t, "worker-0", workerName(0))
	require.Equal(t, "worker-9", workerName(9))
	require.Equal(t, "worker-10", workerName(10))
	require.Equal(t, "worker-42", workerName(42))
}

func TestPool_Run_DispatchesToRegisteredHandler(t *testing.T) {
	backend := queue.NewInMemory(10*time.Millisecond, 100*time.Millisecond)
	var handled int32
	var wg sync.WaitGroup
	wg.Add(1)

	handlers := map[queue.Type]Handler{
		queue.TypeSendWebhook: func(_ context.Context, job *queue.Job) error {
			atomic.AddInt32(&handled, 1)
			wg.Done()
			return nil
		},
	}

	require.NoError(t, backend.Enqueue(context.Background(), &queue.Job{
		ID: "job-1", Type: queue.TypeSendWebhook, MaxAttempts: 1, CreatedAt: time.Now(),
	}))

	pool := NewPool(backend, handlers, 2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()

	waitOrTimeout(t, &wg, 2*time.Second)
	cancel()

	require.Equal(t, int32(1), atomic.LoadInt32(&handled))

	job, err := backend.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, job.Status)
}

func TestPool_Run_HandlerErrorSchedulesRetryThroughBackend(t *testing.T) {
	backend := queue.NewInMemory(10*time.Millisecond, 100*time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)

	handlers := map[queue.Type]Handler{
		queue.TypeSendWebhook: func(_ context.Context, job *queue.Job) error {
			wg.Done()
			return errors.New("delivery failed")
		},
	}

	require.NoError(t, backend.Enqueue(context.Background(), &queue.Job{
		ID: "job-2", Type: queue.TypeSendWebhook, MaxAttempts: 3, CreatedAt: time.Now(),
	}))

	pool := NewPool(backend, handlers, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()

	waitOrTimeout(t, &wg, 2*time.Second)
	cancel()
	// give the dispatch goroutine a moment to record the failure after the
	// handler returned, since wg.Done() fires before Fail is called.
	time.Sleep(50 * time.Millisecond)

	job, err := backend.Get(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, "delivery failed", job.LastError)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handler invocation")
	}
}
