// Package transport implements the resolve/filter/connect/relay
// pipeline shared by every server-side service (spec.md §4.6): a
// Resolver turns domain names into addresses, a filter.HostFilter
// admits or denies the destination, a Connector opens the outbound
// connection (direct or through a proxy chain), and Relay copies bytes
// bidirectionally with an idle timeout and Prometheus-backed counters.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/proxyworks/tunelo/internal/filter"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/metrics"
)

// Error taxonomy, grounded on original_source/src/transport/error.rs.
var (
	ErrConnectForbiddenHost    = errors.New("transport: destination denied by filter")
	ErrFailedToResolveDomain   = errors.New("transport: failed to resolve domain name")
	ErrNoAddressResolvedToHost = errors.New("transport: resolver returned no addresses")
)

// Resolver resolves a domain name to a set of IP addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// SystemResolver resolves via the platform's standard resolver.
type SystemResolver struct{}

// Resolve implements Resolver using net.DefaultResolver.
func (SystemResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToResolveDomain, err)
	}
	return addrs, nil
}

// Connector opens an outbound connection to a resolved socket address.
type Connector interface {
	ConnectAddr(ctx context.Context, addr *net.TCPAddr) (net.Conn, error)
}

// DirectConnector dials destinations directly.
type DirectConnector struct {
	Dialer net.Dialer
}

// ConnectAddr implements Connector via a direct TCP dial.
func (d DirectConnector) ConnectAddr(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, "tcp", addr.String())
}

// Transport composes resolution, admission filtering, and connection
// for one egress path — direct or via a proxy chain.
type Transport struct {
	Resolver  Resolver
	Filter    filter.HostFilter
	Connector Connector
	Metrics   *metrics.Metrics

	IdleTimeout time.Duration
}

// New builds a direct Transport.
func New(resolver Resolver, hostFilter filter.HostFilter, connector Connector, m *metrics.Metrics) *Transport {
	return &Transport{Resolver: resolver, Filter: hostFilter, Connector: connector, Metrics: m}
}

// Resolve turns h into a concrete socket address, consulting Resolver
// only for the domain-name variant.
func (t *Transport) Resolve(ctx context.Context, h hostaddr.HostAddress) (*net.TCPAddr, error) {
	h = h.Fit()
	if h.Kind() == hostaddr.KindSocket {
		return &net.TCPAddr{IP: h.IP(), Port: int(h.Port())}, nil
	}

	addrs, err := t.Resolver.Resolve(ctx, h.Domain())
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddressResolvedToHost
	}
	return &net.TCPAddr{IP: addrs[0], Port: int(h.Port())}, nil
}

// Connect resolves and dials h, subject to the configured filter.
func (t *Transport) Connect(ctx context.Context, h hostaddr.HostAddress) (net.Conn, error) {
	if t.Filter != nil && t.Filter.FilterHostAddress(h) == filter.Deny {
		return nil, ErrConnectForbiddenHost
	}

	addr, err := t.Resolve(ctx, h)
	if err != nil {
		return nil, err
	}
	return t.ConnectAddr(ctx, addr)
}

// ConnectAddr dials a resolved address directly, subject to the
// configured filter.
func (t *Transport) ConnectAddr(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	if t.Filter != nil && t.Filter.FilterSocket(addr) == filter.Deny {
		return nil, ErrConnectForbiddenHost
	}
	conn, err := t.Connector.ConnectAddr(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	return conn, nil
}

// halfCloser is implemented by connections that support half-close.
type halfCloser interface {
	CloseWrite() error
}

// Relay copies data bidirectionally between client and remote until
// either side closes, applying IdleTimeout (if set) to both
// directions, and recording byte counts and active-relay gauges on
// Metrics.
func (t *Transport) Relay(client, remote net.Conn) error {
	if t.Metrics != nil {
		t.Metrics.RelayActive.Inc()
		t.Metrics.RelayTotal.Inc()
		defer t.Metrics.RelayActive.Dec()
	}

	errCh := make(chan error, 2)

	go func() {
		n, err := t.copy(remote, client)
		if t.Metrics != nil {
			t.Metrics.BytesTransmitted.Add(float64(n))
		}
		if hc, ok := remote.(halfCloser); ok {
			hc.CloseWrite()
		}
		errCh <- err
	}()

	go func() {
		n, err := t.copy(client, remote)
		if t.Metrics != nil {
			t.Metrics.BytesReceived.Add(float64(n))
		}
		if hc, ok := client.(halfCloser); ok {
			hc.CloseWrite()
		}
		errCh <- err
	}()

	// The first direction to finish ends the relay: both connections are
	// closed so the other copy unblocks, and its error is discarded.
	err := <-errCh
	client.Close()
	remote.Close()
	<-errCh
	return err
}

// copy mirrors io.Copy but resets a read deadline on src before every
// read when IdleTimeout is set, so a relay direction that goes silent
// for longer than IdleTimeout is torn down.
func (t *Transport) copy(dst io.Writer, src net.Conn) (int64, error) {
	if t.IdleTimeout <= 0 {
		return io.Copy(dst, src)
	}

	buf := make([]byte, 32*1024)
	var total int64
	for {
		src.SetReadDeadline(time.Now().Add(t.IdleTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
