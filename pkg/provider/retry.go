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

package provider

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/errs"
)

// retryPolicy is a capped, jittered exponential backoff (spec §4.1:
// "exponential backoff 1s, 2s, 4s, … capped at 30s, with jitter, up to N
// attempts").
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// retryableStatus reports whether an HTTP status code should be retried:
// 5xx, 429, and 408, and no other 4xx.
func retryableStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return true
	}
	return status >= 500
}

// withRetry runs effector up to p.maxAttempts times, retrying only on
// network errors, *errs.Error{Kind: Network/RateLimit/ProviderTimeout}, and
// retryable HTTP statuses surfaced as *errs.Error{Kind: ProviderClient}.
// retryAfter, when longer than the computed backoff, replaces it for that
// one retry (honoring a provider Retry-After header).
func withRetry(ctx context.Context, p retryPolicy, effector func(context.Context) (retryAfter time.Duration, err error)) error {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		retryAfter, err := effector(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.maxAttempts || !isRetryable(err) {
			return err
		}

		delay := backoffDelay(p.baseDelay, p.maxDelay, attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		log.WarnContext(ctx, "provider call failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	kind, ok := errs.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case errs.KindNetwork:
		var e *errs.Error
		if ee, ok2 := err.(*errs.Error); ok2 {
			e = ee
		}
		return e == nil || e.Retryable
	case errs.KindRateLimit, errs.KindProviderTimeout:
		return true
	case errs.KindProviderClient:
		if ee, ok2 := err.(*errs.Error); ok2 {
			return retryableStatus(ee.ProviderStatus)
		}
		return false
	default:
		return false
	}
}

// backoffDelay computes the capped, jittered exponential delay for the
// given attempt (1-indexed): base * 2^(attempt-1), capped at maxDelay, with
// up to 20% jitter added.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
