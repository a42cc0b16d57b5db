package checker

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/proxyworks/tunelo/internal/client"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/transport"
	"github.com/proxyworks/tunelo/internal/wire/httpconn"
)

// Prober runs one reachability check against an already-live proxy
// strategy, per spec.md §4.8's Basic/Http variants.
type Prober interface {
	Kind() ProberKind
	Probe(ctx context.Context, connector *client.ProxyConnector, timeout time.Duration) Report
}

// withTimeout runs fn under a context bounded by timeout (when
// positive), reporting a Timeout report if fn doesn't return in time.
func withTimeout(ctx context.Context, timeout time.Duration, kind ProberKind, fn func(context.Context) Report) Report {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Report, 1)
	go func() { done <- fn(ctx) }()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return Report{Prober: kind, Timeout: true, Err: ctx.Err()}
	}
}

// probeLiveness builds and closes a connection through the strategy's
// hops via ProxyConnector.ProbeLiveness, per spec.md §4.8's Liveness
// prober.
func probeLiveness(ctx context.Context, connector *client.ProxyConnector, timeout time.Duration) Report {
	return withTimeout(ctx, timeout, ProberLiveness, func(ctx context.Context) Report {
		ok, err := connector.ProbeLiveness(ctx, 0)
		return Report{Prober: ProberLiveness, OK: ok, Err: err}
	})
}

// BasicProber dials all the way through the proxy to Destination and
// measures the round trip to establish the tunnel, supplementing
// spec.md §4.8's ok/error-only report with the destination and RTT
// original_source's TaskReport carries.
type BasicProber struct {
	Destination hostaddr.HostAddress
}

// Kind implements Prober.
func (BasicProber) Kind() ProberKind { return ProberBasic }

// Probe implements Prober.
func (p BasicProber) Probe(ctx context.Context, connector *client.ProxyConnector, timeout time.Duration) Report {
	return withTimeout(ctx, timeout, ProberBasic, func(ctx context.Context) Report {
		start := time.Now()
		conn, err := connector.Connect(ctx, p.Destination)
		rtt := time.Since(start)
		if err != nil {
			return Report{Prober: ProberBasic, Destination: p.Destination, RTT: rtt, Err: err}
		}
		conn.Close()
		return Report{Prober: ProberBasic, OK: true, Destination: p.Destination, RTT: rtt}
	})
}

// HTTPProber tunnels an HTTP request through the proxy and checks the
// response's status code, per spec.md §4.8's Http prober. Its TLS path
// is the spec's one explicit standard-library carve-out.
type HTTPProber struct {
	Method       string
	URL          string
	ExpectedCode int
}

// Kind implements Prober.
func (HTTPProber) Kind() ProberKind { return ProberHTTP }

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context, connector *client.ProxyConnector, timeout time.Duration) Report {
	return withTimeout(ctx, timeout, ProberHTTP, func(ctx context.Context) Report {
		u, err := url.Parse(p.URL)
		if err != nil {
			return Report{Prober: ProberHTTP, Err: fmt.Errorf("checker: parse probe url: %w", err)}
		}

		host := u.Hostname()
		port := u.Port()
		https := u.Scheme == "https"
		if port == "" {
			if https {
				port = "443"
			} else {
				port = "80"
			}
		}
		portNum, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return Report{Prober: ProberHTTP, Err: fmt.Errorf("checker: parse probe port: %w", err)}
		}

		destination := hostaddr.NewDomain(host, uint16(portNum)).Fit()
		conn, err := connector.Connect(ctx, destination)
		if err != nil {
			return Report{Prober: ProberHTTP, Err: err}
		}
		defer conn.Close()

		var rw interface {
			Read([]byte) (int, error)
			Write([]byte) (int, error)
		} = conn

		if https {
			tlsConn := tls.Client(conn, transport.BuildProbeTLSConfig(host, false))
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				return Report{Prober: ProberHTTP, Err: fmt.Errorf("checker: tls handshake: %w", err)}
			}
			rw = tlsConn
		}

		path := u.RequestURI()
		if path == "" {
			path = "/"
		}
		method := p.Method
		if method == "" {
			method = "GET"
		}
		request := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\n\r\n", method, path, host)
		if _, err := rw.Write([]byte(request)); err != nil {
			return Report{Prober: ProberHTTP, Err: err}
		}

		resp, err := httpconn.ReadResponse(bufio.NewReader(rw))
		if err != nil {
			return Report{Prober: ProberHTTP, Err: err}
		}

		expected := p.ExpectedCode
		if expected == 0 {
			expected = 200
		}
		return Report{Prober: ProberHTTP, OK: resp.StatusCode == expected, ResponseCode: resp.StatusCode}
	})
}
