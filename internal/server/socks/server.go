// Package socks implements the SOCKS4a and SOCKS5 server listener
// (spec.md §4.3/§4.4): one TCP listener accepts connections and
// dispatches each to the SOCKS4 or SOCKS5 state machine by its first
// wire byte, sharing one transport.Transport, auth.Manager, and
// udpassoc.Manager across every connection.
//
// Grounded on _examples/postalsys-Muti-Metroo's internal/socks5/server.go
// (accept loop, connTracker, graceful Stop) and handler.go (per-command
// dispatch, half-close relay).
package socks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/proxyworks/tunelo/internal/auth"
	"github.com/proxyworks/tunelo/internal/logging"
	"github.com/proxyworks/tunelo/internal/metrics"
	"github.com/proxyworks/tunelo/internal/transport"
	"github.com/proxyworks/tunelo/internal/udpassoc"
)

// Config configures a Server.
type Config struct {
	ListenIP   net.IP
	ListenPort uint16

	ConnectionTimeout    time.Duration
	TCPKeepalive         time.Duration
	MaxConnectionsPerSec float64
	MaxConnections       int

	AuthManager *auth.Manager
	Transport   *transport.Transport
	// UDP, when non-nil, enables SOCKS5 UDP ASSOCIATE support.
	UDP *udpassoc.Manager

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server is a SOCKS4a/SOCKS5 proxy server.
type Server struct {
	cfg     Config
	handler *Handler

	listener *net.TCPListener
	tracker  *connTracker[net.Conn]
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
	if cfg.AuthManager == nil {
		cfg.AuthManager = auth.NewManager()
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
		tracker: newConnTracker[net.Conn](),
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("socks: server already running")
	}

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: s.cfg.ListenIP, Port: int(s.cfg.ListenPort)})
	if err != nil {
		return fmt.Errorf("socks: listen: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every active connection, then waits for
// in-flight handlers to return.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)
		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.cfg.UDP != nil {
			s.cfg.UDP.CloseAll()
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
func (s *Server) ConnectionCount() int64 { return s.tracker.count() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.cfg.Logger.Warn("socks: accept failed", logging.KeyError, err)
				continue
			}
		}

		if s.cfg.MaxConnections > 0 && s.tracker.count() >= int64(s.cfg.MaxConnections) {
			conn.Close()
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordReject("socks", "max_connections")
			}
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordReject("socks", "rate_limited")
			}
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok && s.cfg.TCPKeepalive > 0 {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(s.cfg.TCPKeepalive)
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
		s.cfg.Metrics.RecordAccept("socks")
	}

	s.handler.Handle(context.Background(), conn)
}
