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

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/internal/reqctx"
)

// Dispatcher delivers signed lifecycle events to a caller-supplied URL.
// Delivery is best-effort: after the retry budget is exhausted the failure
// is logged and returned as Deliver's error.
type Dispatcher struct {
	httpClient *http.Client
	secret     string
	maxRetries int
	baseDelay  time.Duration
}

// NewDispatcher builds a Dispatcher. secret is the process-wide HMAC key
// used when a delivery does not carry a per-request override.
func NewDispatcher(timeout time.Duration, maxRetries int, secret string) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
	}
}

// Deliver POSTs payload to url, signing it with secretOverride if non-empty,
// else the dispatcher's process-wide secret. It retries on 5xx and network
// errors only, up to maxRetries additional attempts; a 4xx response, an
// exhausted retry budget or a cancelled context ends the delivery with the
// last error.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload Payload, secretOverride string) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	secret := d.secret
	if secretOverride != "" {
		secret = secretOverride
	}
	signature := Sign(secret, body)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries+1; attempt++ {
		status, err := d.post(ctx, url, body, signature, timestamp)
		if err == nil {
			return nil
		}
		lastErr = err

		if status != 0 && !retryableStatus(status) {
			log.WarnContext(ctx, "webhook delivery failed with non-retryable status, not retrying",
				"url", url, "status", status, "instanceId", payload.InstanceID)
			return lastErr
		}
		if attempt == d.maxRetries+1 {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt-1))) * d.baseDelay
		log.WarnContext(ctx, "webhook delivery failed, retrying",
			"url", url, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	log.ErrorContext(ctx, "webhook delivery exhausted retries, giving up",
		"url", url, "instanceId", payload.InstanceID, "error", lastErr)
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature, timestamp string) (status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Timestamp", timestamp)
	if id := reqctx.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint responded %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature (hex, no "sha256=" prefix) matches the
// HMAC-SHA256 of body under secret, for consumers validating deliveries.
func Verify(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
