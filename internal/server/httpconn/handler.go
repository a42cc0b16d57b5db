package httpconn

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/logging"
	"github.com/proxyworks/tunelo/internal/metrics"
	"github.com/proxyworks/tunelo/internal/transport"
	wirehttpconn "github.com/proxyworks/tunelo/internal/wire/httpconn"
)

// Handler runs one accepted connection's HTTP CONNECT state machine.
type Handler struct {
	transport *transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{transport: cfg.Transport, logger: cfg.Logger, metrics: cfg.Metrics}
}

// stringWriterConn adapts a net.Conn to the WriteString-capable writer
// internal/wire/httpconn's encoders expect.
type stringWriterConn struct{ net.Conn }

func (s stringWriterConn) WriteString(str string) (int, error) { return s.Write([]byte(str)) }

// bufferedConn lets the relay continue reading from conn's bufio.Reader
// after the CONNECT request parse, so bytes the client pipelined past
// the request headers are not lost.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.br.Read(p) }

func (b *bufferedConn) CloseWrite() error {
	if hc, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Handle parses a CONNECT request off br and either tunnels to the
// target or replies with an error status, per spec.md §4.1.
func (h *Handler) Handle(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	w := stringWriterConn{conn}

	req, err := wirehttpconn.ReadRequest(br)
	if err != nil {
		h.recordError("bad_request")
		wirehttpconn.WriteStatusLine(w, wirehttpconn.StatusBadRequest, wirehttpconn.ReasonBadRequest)
		return
	}

	if req.Method != "CONNECT" {
		h.recordError("unsupported_method")
		wirehttpconn.WriteStatusLine(w, wirehttpconn.StatusNotImplemented, wirehttpconn.ReasonNotImplemented)
		return
	}

	destination, err := parseAuthority(req.Authority)
	if err != nil {
		h.recordError("bad_authority")
		wirehttpconn.WriteStatusLine(w, wirehttpconn.StatusBadRequest, wirehttpconn.ReasonBadRequest)
		return
	}

	remote, err := h.transport.Connect(ctx, destination)
	if err != nil {
		h.recordError("connect_failed")
		wirehttpconn.WriteStatusLine(w, wirehttpconn.StatusNotFound, wirehttpconn.ReasonNotFound)
		return
	}
	defer remote.Close()

	if err := wirehttpconn.WriteStatusLine(w, wirehttpconn.StatusConnectionEstablished, wirehttpconn.ReasonConnectionEstablished); err != nil {
		return
	}

	client := &bufferedConn{Conn: conn, br: br}
	h.transport.Relay(client, remote)
}

func (h *Handler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordHandshakeError("http", kind)
	}
	if h.logger != nil {
		h.logger.Debug("http connect rejected", logging.KeyError, kind)
	}
}

// parseAuthority turns a "host:port" CONNECT target into a HostAddress,
// defaulting to port 443 when none is given.
func parseAuthority(authority string) (hostaddr.HostAddress, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		host, portStr = authority, "443"
	}
	port, err := parsePort(portStr)
	if err != nil {
		return hostaddr.HostAddress{}, err
	}
	return hostaddr.NewDomain(strings.TrimSpace(host), port).Fit(), nil
}

func parsePort(s string) (uint16, error) {
	var port uint16
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, wirehttpconn.ErrMalformed
		}
		port = port*10 + uint16(c-'0')
	}
	if port == 0 {
		return 0, wirehttpconn.ErrMalformed
	}
	return port, nil
}
