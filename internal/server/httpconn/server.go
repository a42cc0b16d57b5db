// Package httpconn implements the HTTP CONNECT tunneling server
// (spec.md §4.1/§4.4): one TCP listener parses a CONNECT request line,
// admits or denies the target through a shared transport.Transport, and
// relays bytes once the 200 Connection Established reply is sent.
//
// Grounded on the same accept-loop/connTracker/graceful-Stop shape as
// internal/server/socks, and on internal/wire/httpconn for wire framing.
package httpconn

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/proxyworks/tunelo/internal/logging"
	"github.com/proxyworks/tunelo/internal/metrics"
	"github.com/proxyworks/tunelo/internal/transport"
)

// Config configures a Server.
type Config struct {
	ListenIP   net.IP
	ListenPort uint16

	ConnectionTimeout    time.Duration
	MaxConnectionsPerSec float64
	MaxConnections       int

	Transport *transport.Transport

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type connTracker struct {
	mu          sync.Mutex
	connections map[net.Conn]struct{}
	count       atomic.Int64
}

func newConnTracker() *connTracker {
	return &connTracker{connections: make(map[net.Conn]struct{})}
}

func (t *connTracker) add(c net.Conn) {
	t.mu.Lock()
	t.connections[c] = struct{}{}
	t.mu.Unlock()
	t.count.Add(1)
}

func (t *connTracker) remove(c net.Conn) {
	t.mu.Lock()
	_, ok := t.connections[c]
	if ok {
		delete(t.connections, c)
	}
	t.mu.Unlock()
	if ok {
		t.count.Add(-1)
	}
}

func (t *connTracker) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.connections {
		c.Close()
	}
	t.connections = make(map[net.Conn]struct{})
	t.count.Store(0)
}

// Server is an HTTP CONNECT tunneling server.
type Server struct {
	cfg     Config
	handler *Handler

	listener *net.TCPListener
	tracker  *connTracker
	limiter  *rate.Limiter

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	var limiter *rate.Limiter
	if cfg.MaxConnectionsPerSec > 0 {
		burst := int(cfg.MaxConnectionsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxConnectionsPerSec), burst)
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(cfg),
		tracker: newConnTracker(),
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("httpconn: server already running")
	}
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: s.cfg.ListenIP, Port: int(s.cfg.ListenPort)})
	if err != nil {
		return fmt.Errorf("httpconn: listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every active connection.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.tracker.closeAll()
	})
	s.wg.Wait()
	return err
}

// Addr returns the listening address, or nil if not started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount reports the number of active connections.
func (s *Server) ConnectionCount() int64 { return s.tracker.count.Load() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.cfg.Logger.Warn("httpconn: accept failed", logging.KeyError, err)
				continue
			}
		}

		if s.cfg.MaxConnections > 0 && s.tracker.count.Load() >= int64(s.cfg.MaxConnections) {
			conn.Close()
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordReject("http", "max_connections")
			}
			continue
		}
		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordReject("http", "rate_limited")
			}
			continue
		}

		s.tracker.add(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.tracker.remove(conn)
	defer conn.Close()

	if s.cfg.ConnectionTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAccept("http")
	}

	br := bufio.NewReader(conn)
	s.handler.Handle(context.Background(), conn, br)
}
