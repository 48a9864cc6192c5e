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

// Package api exposes the control plane's HTTP surface: instance
// lifecycle, auto-stop and migration introspection/triggers, health,
// metrics, and the generated OpenAPI document.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/internal/reqctx"
	"github.com/caas-team/instanceplane/pkg/errs"
)

// errorBody is the envelope every non-2xx response uses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code             string            `json:"code"`
	Message          string            `json:"message"`
	Timestamp        time.Time         `json:"timestamp"`
	RequestID        string            `json:"requestId"`
	CorrelationID    string            `json:"correlationId,omitempty"`
	Details          map[string]string `json:"details,omitempty"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
	Retryable        *bool             `json:"retryable,omitempty"`
	RetryAfter       *int64            `json:"retryAfter,omitempty"`
}

// writeError renders err as the standard error envelope, setting the
// mandatory security headers on every error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Internal(err)
	}

	body := errorBody{Error: errorDetail{
		Code:          string(e.Kind),
		Message:       e.Message,
		Timestamp:     time.Now().UTC(),
		RequestID:     requestID(ctx),
		CorrelationID: reqctx.CorrelationID(ctx),
		Details:       e.Details,
	}}
	if e.Kind == errs.KindValidation {
		body.Error.ValidationErrors = e.Details
	}
	if e.Kind == errs.KindNetwork {
		retryable := e.Retryable
		body.Error.Retryable = &retryable
	}
	if e.Kind == errs.KindRateLimit && e.RetryAfter > 0 {
		seconds := int64(e.RetryAfter / time.Second)
		body.Error.RetryAfter = &seconds
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(e.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.ErrorContext(ctx, "failed to encode error response", "error", encErr)
	}
}

// writeJSON renders v as a 200 (or the given status) JSON body, also
// applying the mandatory security headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
