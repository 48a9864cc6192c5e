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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caas-team/instanceplane/internal/reqctx"
	"github.com/stretchr/testify/require"
)

func TestCorrelationMiddleware_EchoesInboundHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = reqctx.CorrelationID(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(correlationIDHeader, "corr-123")
	w := httptest.NewRecorder()

	correlationMiddleware(next).ServeHTTP(w, r)

	require.Equal(t, "corr-123", seen)
	require.Equal(t, "corr-123", w.Header().Get(correlationIDHeader))
}

func TestCorrelationMiddleware_NoopWithoutHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = reqctx.CorrelationID(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	correlationMiddleware(next).ServeHTTP(w, r)

	require.Empty(t, seen)
	require.Empty(t, w.Header().Get(correlationIDHeader))
}

func TestRecoverMiddleware_TurnsPanicIntoErrorEnvelope(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	recoverMiddleware(next).ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "internal error")
}
