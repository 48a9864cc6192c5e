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

package api

import (
	"context"
	"net/http"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/internal/reqctx"
	"github.com/go-chi/chi/v5/middleware"
)

const correlationIDHeader = "X-Correlation-Id"

// requestID returns chi's per-request ID, the same ID set by
// middleware.RequestID and surfaced via middleware.GetReqID.
func requestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// correlationMiddleware lifts an inbound X-Correlation-Id header into the
// request context via reqctx, so handlers and writeError can echo it back
// without threading it through every call signature.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id != "" {
			r = r.WithContext(reqctx.IntoContext(r.Context(), id))
			w.Header().Set(correlationIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a panicking handler into a 500 Internal error
// response instead of tearing down the server, grounded on chi's own
// middleware.Recoverer but routed through writeError for envelope
// consistency.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log := logger.FromContext(r.Context())
				log.ErrorContext(r.Context(), "panic while handling request", "panic", rec, "path", r.URL.Path)
				writeError(w, r, panicError{rec})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return "internal error"
}
