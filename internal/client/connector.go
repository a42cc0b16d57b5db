package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// ProxyConnector dials a destination through a ProxyStrategy — a
// single hop or an ordered chain — walking each hop's handshake in
// turn, per original_source/src/client/connector.rs.
type ProxyConnector struct {
	Strategy hostaddr.ProxyStrategy
	// Dialer opens the raw TCP connection to the first hop. Defaults to
	// net.Dialer when nil.
	Dialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}
}

// NewProxyConnector builds a ProxyConnector for strategy using the
// standard net.Dialer.
func NewProxyConnector(strategy hostaddr.ProxyStrategy) *ProxyConnector {
	return &ProxyConnector{Strategy: strategy, Dialer: &net.Dialer{}}
}

// Connect dials through the configured strategy to destination and
// returns the established, tunnel-ready connection.
func (c *ProxyConnector) Connect(ctx context.Context, destination hostaddr.HostAddress) (net.Conn, error) {
	if err := c.Strategy.Validate(); err != nil {
		return nil, err
	}

	conn, err := c.buildSocket(ctx)
	if err != nil {
		return nil, err
	}

	var hsErr error
	switch c.Strategy.Kind {
	case hostaddr.StrategyKindSingle:
		hsErr = handshakeHop(conn, c.Strategy.Hops[0], destination)
	case hostaddr.StrategyKindChain:
		hsErr = handshakeHop(conn, c.Strategy.Hops[len(c.Strategy.Hops)-1], destination)
	}
	if hsErr != nil {
		conn.Close()
		return nil, hsErr
	}
	return conn, nil
}

// ProbeLiveness dials the strategy's first hop and, for a chain, runs
// the handshakes that link each hop to the next, then tears the
// connection down, reporting whether the chain is reachable. No
// handshake toward a final destination is made.
func (c *ProxyConnector) ProbeLiveness(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := c.buildSocket(ctx)
	if err != nil {
		return false, err
	}
	conn.Close()
	return true, nil
}

func (c *ProxyConnector) buildSocket(ctx context.Context) (net.Conn, error) {
	if err := c.Strategy.Validate(); err != nil {
		return nil, err
	}

	switch c.Strategy.Kind {
	case hostaddr.StrategyKindSingle:
		hop := c.Strategy.Hops[0]
		return c.dial(ctx, hop.HostAddress().Host())

	case hostaddr.StrategyKindChain:
		hops := c.Strategy.Hops
		conn, err := c.dial(ctx, hops[0].HostAddress().Host())
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(hops)-1; i++ {
			target := hops[i+1].HostAddress()
			if err := handshakeHop(conn, hops[i], target); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
	return nil, ErrNoProxyProvided
}

func (c *ProxyConnector) dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("client: dial proxy %s: %w", address, err)
	}
	return conn, nil
}

// handshakeHop runs proxyHost's client-side handshake over conn,
// requesting a connection onward to target.
func handshakeHop(conn net.Conn, proxyHost hostaddr.ProxyHost, target hostaddr.HostAddress) error {
	hs := NewHandshake(conn)
	switch proxyHost.Kind {
	case hostaddr.ProxyKindSocks4a:
		return hs.Socks4aConnect(target, proxyHost.ID)
	case hostaddr.ProxyKindSocks5:
		var username, password *string
		if proxyHost.HasCredentials() {
			username, password = &proxyHost.Username, &proxyHost.Password
		}
		_, err := hs.Socks5Connect(target, username, password)
		return err
	case hostaddr.ProxyKindHTTPTunnel:
		return hs.HTTPConnect(target, proxyHost.UserAgent)
	default:
		return fmt.Errorf("client: unsupported proxy kind %v", proxyHost.Kind)
	}
}
