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
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
)

// providerErrorBody is the provider's error response envelope.
type providerErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyResponse turns a non-2xx provider response into the taxonomy
// surfaced by this package: RateLimit (honoring Retry-After), and
// ProviderClient for everything else.
func classifyResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.RateLimit(retryAfterOf(resp))
	}

	var body providerErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(raw, &body)
	if body.Message == "" {
		body.Message = resp.Status
	}
	return errs.ProviderClient(resp.StatusCode, body.Code, body.Message)
}

// retryAfterOf parses the Retry-After header as seconds, defaulting to 1s
// when absent or malformed.
func retryAfterOf(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
