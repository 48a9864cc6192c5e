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

package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngine_RunReturnsHealthyWhenAllEndpointsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	cfg := Config{
		TimeoutPerCheck: time.Second,
		RetryAttempts:   1,
		RetryDelay:      10 * time.Millisecond,
		MaxWaitTime:     time.Second,
	}
	e := NewEngine(cfg)

	endpoints := []Endpoint{{Host: host, Port: port, Transport: "http", Path: "/"}}
	result := e.Run(context.Background(), endpoints, nil)

	require.Equal(t, VerdictHealthy, result.Verdict)
	require.Equal(t, AggregateHealthy, result.Aggregate)
	require.Len(t, result.Attempts, 1)
}

func TestEngine_RunTimesOutWhenEndpointNeverComesUp(t *testing.T) {
	cfg := Config{
		TimeoutPerCheck: 50 * time.Millisecond,
		RetryAttempts:   0,
		RetryDelay:      10 * time.Millisecond,
		MaxWaitTime:     100 * time.Millisecond,
	}
	e := NewEngine(cfg)

	endpoints := []Endpoint{{Host: "127.0.0.1", Port: 1, Transport: "tcp"}}
	result := e.Run(context.Background(), endpoints, nil)

	require.Equal(t, VerdictTimeout, result.Verdict)
	require.Equal(t, AggregateUnhealthy, result.Aggregate)
}

func TestEngine_RunCancelledByContext(t *testing.T) {
	cfg := Config{
		TimeoutPerCheck: 50 * time.Millisecond,
		RetryAttempts:   0,
		RetryDelay:      10 * time.Millisecond,
		MaxWaitTime:     5 * time.Second,
	}
	e := NewEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	endpoints := []Endpoint{{Host: "127.0.0.1", Port: 1, Transport: "tcp"}}
	result := e.Run(ctx, endpoints, nil)

	require.Equal(t, VerdictCancelled, result.Verdict)
}

func TestEngine_RunBecomesHealthyAfterInitialFailure(t *testing.T) {
	// Reserve a free port and release it, so the first probes are refused.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := reserved.Addr().String()
	require.NoError(t, reserved.Close())

	// Start listening on that port only after a short delay.
	lnCh := make(chan net.Listener, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lnCh <- nil
			return
		}
		lnCh <- ln
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	defer func() {
		if ln := <-lnCh; ln != nil {
			_ = ln.Close()
		}
	}()

	host, port := splitHostPort(t, "tcp://"+addr)
	cfg := Config{
		TimeoutPerCheck: 50 * time.Millisecond,
		RetryAttempts:   0,
		RetryDelay:      20 * time.Millisecond,
		MaxWaitTime:     time.Second,
	}
	e := NewEngine(cfg)

	endpoints := []Endpoint{{Host: host, Port: port, Transport: "tcp"}}
	result := e.Run(context.Background(), endpoints, nil)

	require.Equal(t, VerdictHealthy, result.Verdict)
}

func TestEngine_RunInvokesSweepStartedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	cfg := Config{
		TimeoutPerCheck: time.Second,
		RetryAttempts:   0,
		RetryDelay:      10 * time.Millisecond,
		MaxWaitTime:     time.Second,
	}
	e := NewEngine(cfg)

	calls := 0
	endpoints := []Endpoint{{Host: host, Port: port, Transport: "http", Path: "/"}}
	_ = e.Run(context.Background(), endpoints, func(eps []Endpoint) {
		calls++
		require.Len(t, eps, 1)
	})

	require.Equal(t, 1, calls)
}
