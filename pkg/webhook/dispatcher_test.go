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
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_SignsBodyWithHMAC(t *testing.T) {
	d := NewDispatcher(time.Second, 0, "top-secret")
	httpmock.ActivateNonDefault(d.httpClient)
	defer httpmock.DeactivateAndReset()

	var gotSignature, gotBody string
	httpmock.RegisterResponder("POST", "https://hooks.test/cb",
		func(req *http.Request) (*http.Response, error) {
			gotSignature = req.Header.Get("X-Webhook-Signature")
			raw, _ := io.ReadAll(req.Body)
			gotBody = string(raw)
			return httpmock.NewStringResponse(200, ""), nil
		})

	err := d.Deliver(context.Background(), "https://hooks.test/cb", Payload{
		InstanceID: "i-1",
		Status:     StatusReady,
		Timestamp:  time.Unix(0, 0).UTC(),
	}, "")
	require.NoError(t, err)

	require.Equal(t, "sha256="+Sign("top-secret", []byte(gotBody)), gotSignature)
	require.True(t, Verify("top-secret", []byte(gotBody), gotSignature[len("sha256="):]))
}

func TestDispatcher_RetriesOn5xxNotOn4xx(t *testing.T) {
	d := NewDispatcher(time.Second, 2, "secret")
	httpmock.ActivateNonDefault(d.httpClient)
	defer httpmock.DeactivateAndReset()

	attempts := 0
	httpmock.RegisterResponder("POST", "https://hooks.test/retry",
		func(req *http.Request) (*http.Response, error) {
			attempts++
			return httpmock.NewStringResponse(500, ""), nil
		})

	d.baseDelay = time.Millisecond
	err := d.Deliver(context.Background(), "https://hooks.test/retry", Payload{InstanceID: "i-2", Status: StatusFailed}, "")
	require.Error(t, err)
	require.Equal(t, 3, attempts)

	httpmock.Reset()
	attempts = 0
	httpmock.RegisterResponder("POST", "https://hooks.test/retry",
		func(req *http.Request) (*http.Response, error) {
			attempts++
			return httpmock.NewStringResponse(400, ""), nil
		})

	err = d.Deliver(context.Background(), "https://hooks.test/retry", Payload{InstanceID: "i-3", Status: StatusFailed}, "")
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
