package udpassoc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/wire/socks5"
)

// Association relays UDP datagrams between one client and any number
// of destinations it addresses, for the lifetime of the TCP control
// connection that requested it.
type Association struct {
	manager *Manager

	relayConn  *net.UDPConn // client-facing: receives/sends SOCKS5 UDP datagrams
	remoteConn *net.UDPConn // talks directly to destinations

	mu             sync.Mutex
	expectedClient *net.UDPAddr

	closed atomic.Bool
	done   chan struct{}
}

// LocalAddr returns the relay socket's address — what the server
// reports back to the client in the UDP ASSOCIATE reply.
func (a *Association) LocalAddr() *net.UDPAddr {
	return a.relayConn.LocalAddr().(*net.UDPAddr)
}

// SetExpectedClientAddr pins the client endpoint this association will
// accept datagrams from and reply to, when the request named one.
func (a *Association) SetExpectedClientAddr(addr *net.UDPAddr) {
	a.mu.Lock()
	a.expectedClient = addr
	a.mu.Unlock()
}

func (a *Association) clientAddr() *net.UDPAddr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expectedClient
}

// Close tears down both sockets, unblocking both relay goroutines.
func (a *Association) Close() {
	if a.closed.CompareAndSwap(false, true) {
		close(a.done)
		a.relayConn.Close()
		a.remoteConn.Close()
	}
}

// relayFromClient reads SOCKS5 UDP datagrams off the relay socket and
// forwards their payload to the addressed destination.
func (a *Association) relayFromClient() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := a.relayConn.ReadFrom(buf)
		if err != nil {
			return
		}
		if a.clientAddr() == nil {
			a.SetExpectedClientAddr(from.(*net.UDPAddr))
		}

		datagram, err := socks5.ParseDatagram(buf[:n])
		if err != nil {
			if a.manager.metrics != nil {
				a.manager.metrics.RecordUDPDatagramDropped("bad_header")
			}
			continue
		}

		dest, err := a.manager.resolveDestination(context.Background(), datagram.Destination)
		if err != nil {
			if a.manager.metrics != nil {
				a.manager.metrics.RecordUDPDatagramDropped("resolve_or_filter")
			}
			continue
		}

		if _, err := a.remoteConn.WriteTo(datagram.Payload, dest); err != nil {
			if a.manager.metrics != nil {
				a.manager.metrics.RecordUDPDatagramDropped("send_failed")
			}
			continue
		}
		if a.manager.metrics != nil {
			a.manager.metrics.RecordUDPDatagramRelayed()
		}
	}
}

// relayFromRemote reads raw UDP replies from destinations and wraps
// them in a SOCKS5 UDP header before forwarding to the client.
func (a *Association) relayFromRemote() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := a.remoteConn.ReadFrom(buf)
		if err != nil {
			return
		}

		client := a.clientAddr()
		if client == nil {
			continue
		}

		udpFrom := from.(*net.UDPAddr)
		datagram := socks5.Datagram{
			Destination: hostaddr.NewSocket(udpFrom.IP, uint16(udpFrom.Port)),
			Payload:     append([]byte(nil), buf[:n]...),
		}
		encoded, err := datagram.Bytes()
		if err != nil {
			continue
		}
		if _, err := a.relayConn.WriteTo(encoded, client); err != nil {
			if a.manager.metrics != nil {
				a.manager.metrics.RecordUDPDatagramDropped("send_failed")
			}
			continue
		}
		if a.manager.metrics != nil {
			a.manager.metrics.RecordUDPDatagramRelayed()
		}
	}
}
