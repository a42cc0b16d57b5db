// Package hostaddr defines the address and proxy-descriptor types shared
// by the wire codecs, the client dialer, and the server services.
package hostaddr

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Kind tags the variant held by a HostAddress.
type Kind int

const (
	// KindSocket holds a resolved IP and port.
	KindSocket Kind = iota
	// KindDomain holds an unresolved domain name and port.
	KindDomain
)

// HostAddress is either a resolved socket address or a domain name with
// a port. It is the destination type threaded through every component:
// wire codecs decode into it, the connector dials it, the filter
// inspects it.
type HostAddress struct {
	kind   Kind
	ip     net.IP
	domain string
	port   uint16
}

// NewSocket builds a HostAddress from a resolved IP and port.
func NewSocket(ip net.IP, port uint16) HostAddress {
	return HostAddress{kind: KindSocket, ip: ip, port: port}
}

// NewSocketAddr builds a HostAddress from a net.SocketAddr-shaped pair.
func NewSocketAddr(addr *net.TCPAddr) HostAddress {
	return HostAddress{kind: KindSocket, ip: addr.IP, port: uint16(addr.Port)}
}

// NewDomain builds a HostAddress from a domain name and port.
func NewDomain(domain string, port uint16) HostAddress {
	return HostAddress{kind: KindDomain, domain: domain, port: port}
}

// Kind reports which variant this HostAddress holds.
func (h HostAddress) Kind() Kind { return h.kind }

// Port returns the port of either variant.
func (h HostAddress) Port() uint16 { return h.port }

// IP returns the resolved IP. Only valid when Kind() == KindSocket.
func (h HostAddress) IP() net.IP { return h.ip }

// Domain returns the domain name. Only valid when Kind() == KindDomain.
func (h HostAddress) Domain() string { return h.domain }

// Host returns a string suitable for dialing or display: the IP for a
// socket variant, the domain name for a domain variant.
func (h HostAddress) Host() string {
	if h.kind == KindSocket {
		return h.ip.String()
	}
	return h.domain
}

// String renders "host:port".
func (h HostAddress) String() string {
	return net.JoinHostPort(h.Host(), strconv.Itoa(int(h.port)))
}

// Fit normalizes a domain-variant HostAddress whose name happens to
// parse as an IP literal into the socket variant. Socket-variant values
// are returned unchanged. This mirrors the explicit "fit" operation
// spec.md §3 calls out.
func (h HostAddress) Fit() HostAddress {
	if h.kind != KindDomain {
		return h
	}
	if ip := net.ParseIP(h.domain); ip != nil {
		return NewSocket(ip, h.port)
	}
	return h
}

// Equal reports structural equality between two HostAddress values.
func (h HostAddress) Equal(o HostAddress) bool {
	a, b := h.Fit(), o.Fit()
	if a.kind != b.kind || a.port != b.port {
		return false
	}
	if a.kind == KindSocket {
		return a.ip.Equal(b.ip)
	}
	return a.domain == b.domain
}

// ProxyKind tags the variant held by a ProxyHost.
type ProxyKind int

const (
	// ProxyKindSocks4a identifies a SOCKS4a upstream.
	ProxyKindSocks4a ProxyKind = iota
	// ProxyKindSocks5 identifies a SOCKS5 upstream.
	ProxyKindSocks5
	// ProxyKindHTTPTunnel identifies an HTTP CONNECT upstream.
	ProxyKindHTTPTunnel
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyKindSocks4a:
		return "socks4a"
	case ProxyKindSocks5:
		return "socks5"
	case ProxyKindHTTPTunnel:
		return "http"
	default:
		return "unknown"
	}
}

// ProxyHost describes a single upstream proxy hop along with whatever
// credentials it requires.
type ProxyHost struct {
	Kind ProxyKind

	Host string
	Port uint16

	// Socks4a
	ID []byte

	// Socks5 and HttpTunnel
	Username string
	Password string
	hasAuth  bool

	// HttpTunnel
	UserAgent string
}

// HostAddress returns the HostAddress this hop listens on.
func (p ProxyHost) HostAddress() HostAddress {
	return NewDomain(p.Host, p.Port).Fit()
}

// HasCredentials reports whether username/password were set.
func (p ProxyHost) HasCredentials() bool { return p.hasAuth }

// WithCredentials returns a copy of p carrying the given username and
// password.
func (p ProxyHost) WithCredentials(user, pass string) ProxyHost {
	p.Username, p.Password, p.hasAuth = user, pass, true
	return p
}

// Scheme returns the URL scheme that round-trips this proxy kind.
func (p ProxyHost) Scheme() string { return p.Kind.String() }

// URL renders the proxy descriptor as a URL string, scheme/host/port
// preserving, per spec.md §8's round-trip property.
func (p ProxyHost) URL() string {
	u := &url.URL{Scheme: p.Scheme(), Host: net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))}
	if p.hasAuth {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// String implements fmt.Stringer.
func (p ProxyHost) String() string { return p.URL() }

// ParseProxyHost parses a proxy URL of the form
// scheme://[user:pass@]host:port into a ProxyHost. Recognized schemes
// are socks4a, socks5, and http (aliased as "connect").
func ParseProxyHost(raw string) (ProxyHost, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ProxyHost{}, fmt.Errorf("parse proxy url %q: %w", raw, err)
	}

	var kind ProxyKind
	switch strings.ToLower(u.Scheme) {
	case "socks4a", "socks4":
		kind = ProxyKindSocks4a
	case "socks5":
		kind = ProxyKindSocks5
	case "http", "https", "connect":
		kind = ProxyKindHTTPTunnel
	default:
		return ProxyHost{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return ProxyHost{}, fmt.Errorf("parse proxy host %q: %w", u.Host, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ProxyHost{}, fmt.Errorf("parse proxy port %q: %w", portStr, err)
	}

	p := ProxyHost{Kind: kind, Host: host, Port: uint16(port)}
	if u.User != nil {
		pass, _ := u.User.Password()
		p = p.WithCredentials(u.User.Username(), pass)
	}
	return p, nil
}

// StrategyKind tags the variant held by a ProxyStrategy.
type StrategyKind int

const (
	// StrategyKindSingle dials a single upstream proxy.
	StrategyKindSingle StrategyKind = iota
	// StrategyKindChain dials through an ordered chain of upstreams.
	StrategyKindChain
)

// ProxyStrategy is either a single proxy or an ordered chain of them.
type ProxyStrategy struct {
	Kind  StrategyKind
	Hops  []ProxyHost
}

// Single builds a single-hop strategy.
func Single(p ProxyHost) ProxyStrategy {
	return ProxyStrategy{Kind: StrategyKindSingle, Hops: []ProxyHost{p}}
}

// Chain builds a multi-hop strategy. An empty chain is invalid; callers
// must check Validate.
func Chain(hops []ProxyHost) ProxyStrategy {
	return ProxyStrategy{Kind: StrategyKindChain, Hops: hops}
}

// Validate reports ErrEmptyChain for a Chain strategy with no hops.
func (s ProxyStrategy) Validate() error {
	if s.Kind == StrategyKindChain && len(s.Hops) == 0 {
		return ErrEmptyChain
	}
	if len(s.Hops) == 0 {
		return ErrEmptyChain
	}
	return nil
}

// HostAddress returns the address of the first hop.
func (s ProxyStrategy) HostAddress() HostAddress {
	return s.Hops[0].HostAddress()
}

// ErrEmptyChain is returned by Validate for a strategy with no hops.
var ErrEmptyChain = fmt.Errorf("proxy strategy has no hops")
