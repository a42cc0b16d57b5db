// Package filter implements the host/port/socket admission contract
// (spec.md §4.7): a set-based allow/deny predicate, composable over
// several inner filters and over a ProxyStrategy's hops.
package filter

import (
	"net"
	"strconv"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// Action is the admission decision a filter predicate returns.
type Action int

const (
	// Allow permits the connection.
	Allow Action = iota
	// Deny forbids the connection.
	Deny
)

// Mode selects whether Filter's sets are interpreted as an allow list
// or a deny list.
type Mode int

const (
	// AllowListMode: membership in a set permits; non-membership denies.
	AllowListMode Mode = iota
	// DenyListMode: membership in a set denies; non-membership permits.
	DenyListMode
)

// HostFilter is the contract every filter implementation satisfies,
// including Filter itself and Composer.
type HostFilter interface {
	FilterPort(port uint16) Action
	FilterHostname(hostname string) Action
	FilterAddress(ip net.IP) Action
	FilterSocket(addr *net.TCPAddr) Action
	FilterHost(hostname string, port uint16) Action
	FilterHostAddress(h hostaddr.HostAddress) Action
	CheckProxyStrategy(s hostaddr.ProxyStrategy) (ok bool, denied []hostaddr.ProxyHost)
}

// Filter is the single admission-predicate implementation spec.md §3
// describes: sets of hostnames, addresses, (host,port) pairs, sockets,
// and ports, combined with a Mode.
//
// The original source this spec was distilled from carried two
// near-identical filter structs (DefaultFilter and SimpleFilter); they
// are collapsed into this one type — see DESIGN.md's Open Question
// resolution #5.
type Filter struct {
	Mode Mode

	Ports     map[uint16]struct{}
	Hostnames map[string]struct{}
	Addresses map[string]struct{}
	Sockets   map[string]struct{}
	HostPorts map[hostPortKey]struct{}
}

type hostPortKey struct {
	host string
	port uint16
}

// New builds an empty Filter in the given mode.
func New(mode Mode) *Filter {
	return &Filter{
		Mode:      mode,
		Ports:     make(map[uint16]struct{}),
		Hostnames: make(map[string]struct{}),
		Addresses: make(map[string]struct{}),
		Sockets:   make(map[string]struct{}),
		HostPorts: make(map[hostPortKey]struct{}),
	}
}

// AddPort adds a port to the filter's port set.
func (f *Filter) AddPort(port uint16) { f.Ports[port] = struct{}{} }

// AddHostname adds a hostname to the filter's hostname set.
func (f *Filter) AddHostname(name string) { f.Hostnames[name] = struct{}{} }

// AddAddress adds an IP address to the filter's address set.
func (f *Filter) AddAddress(ip net.IP) { f.Addresses[ip.String()] = struct{}{} }

// AddSocket adds a host:port socket to the filter's socket set.
func (f *Filter) AddSocket(addr *net.TCPAddr) { f.Sockets[addr.String()] = struct{}{} }

// AddHostPort adds a (host, port) pair to the filter's set.
func (f *Filter) AddHostPort(host string, port uint16) {
	f.HostPorts[hostPortKey{host, port}] = struct{}{}
}

func (f *Filter) decide(member bool) Action {
	if f.Mode == AllowListMode {
		if member {
			return Allow
		}
		return Deny
	}
	if member {
		return Deny
	}
	return Allow
}

// FilterPort implements HostFilter.
func (f *Filter) FilterPort(port uint16) Action {
	_, ok := f.Ports[port]
	return f.decide(ok)
}

// FilterHostname implements HostFilter.
func (f *Filter) FilterHostname(hostname string) Action {
	_, ok := f.Hostnames[hostname]
	return f.decide(ok)
}

// FilterAddress implements HostFilter.
func (f *Filter) FilterAddress(ip net.IP) Action {
	_, ok := f.Addresses[ip.String()]
	return f.decide(ok)
}

// FilterSocket implements HostFilter. It additionally denies if the
// socket's IP is present in the addresses set, per spec.md §4.7.
func (f *Filter) FilterSocket(addr *net.TCPAddr) Action {
	_, bySocket := f.Sockets[addr.String()]
	_, byAddress := f.Addresses[addr.IP.String()]
	return f.decide(bySocket || byAddress)
}

// FilterHost implements HostFilter.
func (f *Filter) FilterHost(hostname string, port uint16) Action {
	_, ok := f.HostPorts[hostPortKey{hostname, port}]
	return f.decide(ok)
}

// FilterHostAddress implements HostFilter, dispatching on whether h is
// a resolved socket or an unresolved domain name.
func (f *Filter) FilterHostAddress(h hostaddr.HostAddress) Action {
	h = h.Fit()
	if h.Kind() == hostaddr.KindSocket {
		return f.FilterSocket(&net.TCPAddr{IP: h.IP(), Port: int(h.Port())})
	}
	return f.FilterHost(h.Domain(), h.Port())
}

// CheckProxyStrategy evaluates every hop of a strategy and reports
// whether none were denied, along with the list of denied hops.
func (f *Filter) CheckProxyStrategy(s hostaddr.ProxyStrategy) (bool, []hostaddr.ProxyHost) {
	var denied []hostaddr.ProxyHost
	for _, hop := range s.Hops {
		if f.FilterHostAddress(hop.HostAddress()) == Deny {
			denied = append(denied, hop)
		}
	}
	return len(denied) == 0, denied
}

// Composer denies if ANY inner filter denies (short-circuit), per
// spec.md §4.7.
type Composer struct {
	Inner []HostFilter
}

// NewComposer builds a Composer over the given inner filters.
func NewComposer(inner ...HostFilter) *Composer { return &Composer{Inner: inner} }

func (c *Composer) anyDenies(check func(HostFilter) Action) Action {
	for _, f := range c.Inner {
		if check(f) == Deny {
			return Deny
		}
	}
	return Allow
}

// FilterPort implements HostFilter.
func (c *Composer) FilterPort(port uint16) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterPort(port) })
}

// FilterHostname implements HostFilter.
func (c *Composer) FilterHostname(hostname string) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterHostname(hostname) })
}

// FilterAddress implements HostFilter.
func (c *Composer) FilterAddress(ip net.IP) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterAddress(ip) })
}

// FilterSocket implements HostFilter.
func (c *Composer) FilterSocket(addr *net.TCPAddr) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterSocket(addr) })
}

// FilterHost implements HostFilter.
func (c *Composer) FilterHost(hostname string, port uint16) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterHost(hostname, port) })
}

// FilterHostAddress implements HostFilter.
func (c *Composer) FilterHostAddress(h hostaddr.HostAddress) Action {
	return c.anyDenies(func(f HostFilter) Action { return f.FilterHostAddress(h) })
}

// CheckProxyStrategy implements HostFilter.
func (c *Composer) CheckProxyStrategy(s hostaddr.ProxyStrategy) (bool, []hostaddr.ProxyHost) {
	var denied []hostaddr.ProxyHost
	for _, f := range c.Inner {
		ok, d := f.CheckProxyStrategy(s)
		if !ok {
			denied = append(denied, d...)
		}
	}
	return len(denied) == 0, denied
}

// socketKey renders a host:port string for set membership.
func socketKey(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
