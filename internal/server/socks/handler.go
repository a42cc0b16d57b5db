package socks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/proxyworks/tunelo/internal/auth"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/logging"
	"github.com/proxyworks/tunelo/internal/metrics"
	"github.com/proxyworks/tunelo/internal/transport"
	"github.com/proxyworks/tunelo/internal/udpassoc"
	"github.com/proxyworks/tunelo/internal/wire/socks4"
	"github.com/proxyworks/tunelo/internal/wire/socks5"
)

// Handler runs one accepted connection's SOCKS4a or SOCKS5 state
// machine: version dispatch, method negotiation and authentication,
// request parsing, and either a CONNECT relay or a UDP ASSOCIATE
// lifetime. Grounded on
// _examples/postalsys-Muti-Metroo/internal/socks5/handler.go's
// Handle/authenticate/readRequest/sendReply/relay shape, generalized
// from its single mesh dialer to transport.Transport and from its
// SOCKS5-only dispatch to also cover SOCKS4a.
type Handler struct {
	auth      *auth.Manager
	transport *transport.Transport
	udp       *udpassoc.Manager
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		auth:      cfg.AuthManager,
		transport: cfg.Transport,
		udp:       cfg.UDP,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Handle reads the first wire byte to identify the protocol version and
// dispatches to the matching state machine, per spec.md §4.4.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	var verByte [1]byte
	if _, err := io.ReadFull(conn, verByte[:]); err != nil {
		return
	}

	switch verByte[0] {
	case socks4.Version:
		if err := h.handleSocks4(ctx, conn); err != nil {
			h.logger.Debug("socks4 connection ended", logging.KeyError, err)
		}
	case socks5.Version:
		if err := h.handleSocks5(ctx, conn); err != nil {
			h.logger.Debug("socks5 connection ended", logging.KeyError, err)
		}
	default:
		h.logger.Debug("rejecting unrecognized version byte", "byte", verByte[0])
	}
}

func (h *Handler) handleSocks4(ctx context.Context, conn net.Conn) error {
	req, err := socks4.ReadRequest(conn)
	if err != nil {
		h.recordHandshakeError("socks4", "bad_request")
		return err
	}

	if req.Command != socks4.CmdConnect {
		conn.Write(socks4.Rejected(net.IPv4zero, 0).Bytes())
		return fmt4UnsupportedCommand
	}

	remote, err := h.transport.Connect(ctx, req.Destination)
	if err != nil {
		h.recordHandshakeError("socks4", "connect_failed")
		conn.Write(socks4.Rejected(net.IPv4zero, 0).Bytes())
		return err
	}
	defer remote.Close()

	bound, _ := remote.LocalAddr().(*net.TCPAddr)
	if _, err := conn.Write(socks4.Granted(bound.IP, uint16(bound.Port)).Bytes()); err != nil {
		return err
	}

	conn.SetDeadline(time.Time{})
	return h.transport.Relay(conn, remote)
}

func (h *Handler) handleSocks5(ctx context.Context, conn net.Conn) error {
	hsReq, err := socks5.ReadHandshakeRequest(conn)
	if err != nil {
		h.recordHandshakeError("socks5", "bad_handshake")
		return err
	}

	method := h.auth.SupportedMethod(hsReq.Methods)
	if _, err := conn.Write(socks5.HandshakeReply{Method: method}.Bytes()); err != nil {
		return err
	}
	if method == socks5.MethodNoAcceptable {
		h.recordHandshakeError("socks5", "no_acceptable_method")
		return errors.New("socks5: no acceptable authentication method")
	}

	if _, err := h.auth.Authenticate(method, conn, conn); err != nil {
		h.recordHandshakeError("socks5", "auth_failed")
		return err
	}

	req, err := socks5.ReadRequest(conn)
	if err != nil {
		h.recordHandshakeError("socks5", "bad_request")
		return err
	}

	switch req.Command {
	case socks5.CmdConnect:
		return h.handleSocks5Connect(ctx, conn, req)
	case socks5.CmdUDPAssociate:
		return h.handleUDPAssociate(conn, req)
	default:
		// SOCKS5 BIND is stubbed as unsupported; see DESIGN.md's Open
		// Question resolution #2.
		h.sendReply5(conn, socks5.ReplyCommandNotSupported, hostaddr.HostAddress{})
		return fmt5UnsupportedCommand
	}
}

func (h *Handler) handleSocks5Connect(ctx context.Context, conn net.Conn, req socks5.Request) error {
	remote, err := h.transport.Connect(ctx, req.Destination)
	if err != nil {
		h.recordHandshakeError("socks5", "connect_failed")
		h.sendReply5(conn, mapErrorToReply(err), hostaddr.HostAddress{})
		return err
	}
	defer remote.Close()

	bound := remote.LocalAddr().(*net.TCPAddr)
	if err := h.sendReply5(conn, socks5.ReplySucceeded, hostaddr.NewSocket(bound.IP, uint16(bound.Port))); err != nil {
		return err
	}

	conn.SetDeadline(time.Time{})
	return h.transport.Relay(conn, remote)
}

func (h *Handler) handleUDPAssociate(conn net.Conn, req socks5.Request) error {
	if h.udp == nil {
		h.sendReply5(conn, socks5.ReplyCommandNotSupported, hostaddr.HostAddress{})
		return ErrUDPDisabled
	}

	var expectedClient *net.UDPAddr
	dest := req.Destination.Fit()
	if dest.Kind() == hostaddr.KindSocket && !dest.IP().IsUnspecified() {
		expectedClient = &net.UDPAddr{IP: dest.IP(), Port: int(dest.Port())}
	}

	assoc, err := h.udp.Open(conn, expectedClient)
	if err != nil {
		h.sendReply5(conn, socks5.ReplyGeneralFailure, hostaddr.HostAddress{})
		return err
	}
	defer h.udp.Close(conn)

	relayAddr := assoc.LocalAddr()
	replyIP := relayAddr.IP
	if tcpLocal, ok := conn.LocalAddr().(*net.TCPAddr); ok && !tcpLocal.IP.IsUnspecified() {
		replyIP = tcpLocal.IP
	}
	if err := h.sendReply5(conn, socks5.ReplySucceeded, hostaddr.NewSocket(replyIP, uint16(relayAddr.Port))); err != nil {
		return err
	}

	conn.SetDeadline(time.Time{})

	// The association lives as long as this control connection, per RFC
	// 1928 §7's "the UDP association terminates when the TCP connection
	// ... terminates". Any data received here is a protocol error, but we
	// only care that the read unblocks on close.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return nil
		}
	}
}

// zeroBound is the BND.ADDR/BND.PORT carried by error replies, which
// carry no meaningful bound address.
var zeroBound = hostaddr.NewSocket(net.IPv4zero, 0)

func (h *Handler) sendReply5(conn net.Conn, code byte, bound hostaddr.HostAddress) error {
	if bound.Kind() == hostaddr.KindSocket && bound.IP() == nil {
		bound = zeroBound
	}
	buf, err := socks5.NewReply(code, bound).Bytes()
	if err != nil {
		buf, _ = socks5.NewReply(code, zeroBound).Bytes()
	}
	_, err = conn.Write(buf)
	return err
}

func (h *Handler) recordHandshakeError(protocol, kind string) {
	if h.metrics != nil {
		h.metrics.RecordHandshakeError(protocol, kind)
	}
}

// mapErrorToReply maps a transport.Connect error to the closest SOCKS5
// reply code, grounded on the teacher's mapErrorToReply.
func mapErrorToReply(err error) byte {
	switch {
	case errors.Is(err, transport.ErrConnectForbiddenHost):
		return socks5.ReplyConnectionNotAllowed
	case errors.Is(err, transport.ErrFailedToResolveDomain), errors.Is(err, transport.ErrNoAddressResolvedToHost):
		return socks5.ReplyHostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return socks5.ReplyHostUnreachable
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return socks5.ReplyTTLExpired
		}
		if netErr.Op == "dial" {
			return socks5.ReplyHostUnreachable
		}
	}
	return socks5.ReplyGeneralFailure
}

var (
	fmt4UnsupportedCommand = errors.New("socks4: unsupported command")
	fmt5UnsupportedCommand = errors.New("socks5: unsupported command")
)
