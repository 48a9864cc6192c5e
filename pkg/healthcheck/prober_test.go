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
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPProber_HealthyOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ep := Endpoint{Host: host, Port: port, Transport: "http", Path: "/"}

	p := proberFor("http")
	err := p.Probe(context.Background(), ep, time.Second)
	require.NoError(t, err)
}

func TestHTTPProber_UnhealthyOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ep := Endpoint{Host: host, Port: port, Transport: "http", Path: "/"}

	p := proberFor("http")
	err := p.Probe(context.Background(), ep, time.Second)
	require.Error(t, err)
}

func TestTCPProber_HealthyWhenListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	host, port := splitHostPort(t, "tcp://"+ln.Addr().String())
	ep := Endpoint{Host: host, Port: port, Transport: "tcp"}

	p := proberFor("tcp")
	err = p.Probe(context.Background(), ep, time.Second)
	require.NoError(t, err)
}

func TestTCPProber_UnhealthyWhenNothingListening(t *testing.T) {
	ep := Endpoint{Host: "127.0.0.1", Port: 1, Transport: "tcp"}
	p := proberFor("tcp")
	err := p.Probe(context.Background(), ep, 200*time.Millisecond)
	require.Error(t, err)
}

func TestProberFor_DefaultsToTCP(t *testing.T) {
	require.IsType(t, tcpProber{}, proberFor("unknown"))
	require.IsType(t, httpProber{}, proberFor("https"))
	require.IsType(t, udpProber{}, proberFor("udp"))
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	rawURL = strings.TrimPrefix(rawURL, "tcp://")
	u, err := url.Parse(rawURL)
	hostport := rawURL
	if err == nil && u.Host != "" {
		hostport = u.Host
	}
	host, portStr, err := net.SplitHostPort(hostport)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
