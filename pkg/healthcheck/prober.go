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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/internal/traceroute"
)

// prober is the per-transport probe contract: one implementation each for
// {tcp, udp, http, https}.
type prober interface {
	Probe(ctx context.Context, e Endpoint, timeout time.Duration) error
}

type httpProber struct{ client *http.Client }

func (p httpProber) Probe(ctx context.Context, e Endpoint, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) { _ = body.Close() }(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed, status is %s", resp.Status)
	}
	return nil
}

type tcpProber struct{}

func (tcpProber) Probe(ctx context.Context, e Endpoint, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.URL())
	if err != nil {
		return err
	}
	return conn.Close()
}

type udpProber struct{}

// Probe sends a zero-length datagram and waits briefly for any response or
// ICMP port-unreachable error; UDP has no handshake, so "no error on send"
// is the best reachability signal available without knowing the
// application protocol.
func (udpProber) Probe(ctx context.Context, e Endpoint, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "udp", e.URL())
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte{}); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		// No response within the window is expected for UDP; treat the
		// successful write as the reachability signal.
		return nil
	}
	return err
}

func proberFor(transport string) prober {
	switch transport {
	case "http", "https":
		return httpProber{client: &http.Client{}}
	case "udp":
		return udpProber{}
	default:
		return tcpProber{}
	}
}

// diagnose gathers a best-effort traceroute to an unreachable endpoint's
// host, attached to the attempt's error detail.
func diagnose(ctx context.Context, host string) string {
	log := logger.FromContext(ctx)
	hops, err := traceroute.New(15, 2*time.Second, traceroute.TCP).Run(ctx, host)
	if err != nil {
		log.DebugContext(ctx, "traceroute diagnostic failed", "host", host, "error", err)
		return ""
	}
	if len(hops) == 0 {
		return ""
	}
	last := hops[len(hops)-1]
	if last.ReachedTarget {
		return ""
	}
	return fmt.Sprintf("traceroute: %d hops, last reached %s", len(hops), last.IP)
}
