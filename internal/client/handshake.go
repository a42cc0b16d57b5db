// Package client implements the dial-through-proxy side of spec.md
// §4.3/§4.8: per-protocol handshake negotiation over an established
// stream, and a ProxyConnector that walks a single hop or an ordered
// chain of hops to reach a destination HostAddress.
package client

import (
	"bufio"
	"fmt"

	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/wire/httpconn"
	"github.com/proxyworks/tunelo/internal/wire/socks4"
	"github.com/proxyworks/tunelo/internal/wire/socks5"
)

// Handshake runs one proxy hop's client-side handshake conversation
// over rw, requesting a TCP connection (or UDP association) to
// destination. On success it returns the bound address the proxy
// reports, if any.
type Handshake struct {
	rw bufioReadWriter
}

type bufioReadWriter struct {
	r *bufio.Reader
	w interface {
		Write(p []byte) (int, error)
	}
}

// NewHandshake wraps rw for handshake use, buffering reads so partial
// protocol replies compose with a plain io.Writer for writes.
func NewHandshake(rw interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}) *Handshake {
	return &Handshake{rw: bufioReadWriter{r: bufio.NewReader(rw), w: rw}}
}

// Socks4aConnect performs a SOCKS4a CONNECT handshake, per
// original_source/src/client/handshake/socks_v4.rs.
func (h *Handshake) Socks4aConnect(destination hostaddr.HostAddress, id []byte) error {
	req := socks4.Request{Command: socks4.CmdConnect, Destination: destination, ID: id}
	if _, err := h.rw.w.Write(req.Bytes()); err != nil {
		return fmt.Errorf("client: write socks4a request: %w", err)
	}

	reply, err := socks4.ReadReply(h.rw.r)
	if err != nil {
		return fmt.Errorf("client: read socks4a reply: %w", err)
	}
	switch reply.Code {
	case socks4.ReplyGranted:
		return nil
	case socks4.ReplyRejected:
		return ErrProxyRejected
	case socks4.ReplyUnreachable:
		return ErrHostUnreachable
	case socks4.ReplyInvalidID:
		return ErrInvalidSocks4aID
	default:
		return fmt.Errorf("client: unexpected socks4a reply code %#x", reply.Code)
	}
}

// Socks5Connect performs a SOCKS5 method negotiation, optional
// username/password sub-negotiation, and CONNECT request, per
// original_source/src/client/handshake/socks_v5.rs.
func (h *Handshake) Socks5Connect(destination hostaddr.HostAddress, username, password *string) (hostaddr.HostAddress, error) {
	return h.socks5(socks5.CmdConnect, destination, username, password)
}

// Socks5UDPAssociate performs a SOCKS5 UDP ASSOCIATE request and
// returns the relay socket the proxy assigns.
func (h *Handshake) Socks5UDPAssociate(destination hostaddr.HostAddress, username, password *string) (hostaddr.HostAddress, error) {
	return h.socks5(socks5.CmdUDPAssociate, destination, username, password)
}

func (h *Handshake) socks5(command byte, destination hostaddr.HostAddress, username, password *string) (hostaddr.HostAddress, error) {
	method := byte(socks5.MethodNoAuth)
	if username != nil && password != nil {
		method = socks5.MethodUserPass
	}

	handshakeReq := socks5.HandshakeRequest{Methods: []byte{method}}
	if _, err := h.rw.w.Write(handshakeReq.Bytes()); err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("client: write socks5 handshake: %w", err)
	}

	handshakeReply, err := socks5.ReadHandshakeReply(h.rw.r)
	if err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("client: read socks5 handshake reply: %w", err)
	}
	if handshakeReply.Method != method {
		return hostaddr.HostAddress{}, ErrUnsupportedMethod
	}

	if method == socks5.MethodUserPass {
		upReq := socks5.UserPassRequest{Username: *username, Password: *password}
		if _, err := h.rw.w.Write(upReq.Bytes()); err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("client: write socks5 userpass: %w", err)
		}
		upReply, err := socks5.ReadUserPassReply(h.rw.r)
		if err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("client: read socks5 userpass reply: %w", err)
		}
		if !upReply.Ok() {
			return hostaddr.HostAddress{}, ErrAccessDenied
		}
	}

	req := socks5.Request{Command: command, Destination: destination}
	reqBytes, err := req.Bytes()
	if err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("client: encode socks5 request: %w", err)
	}
	if _, err := h.rw.w.Write(reqBytes); err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("client: write socks5 request: %w", err)
	}

	reply, err := socks5.ReadReply(h.rw.r)
	if err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("client: read socks5 reply: %w", err)
	}
	if !reply.Ok() {
		return hostaddr.HostAddress{}, ErrHostUnreachable
	}
	return reply.Bound, nil
}

// HTTPConnect performs an HTTP/1.1 CONNECT handshake, per
// original_source/src/client/handshake/http.rs.
func (h *Handshake) HTTPConnect(target hostaddr.HostAddress, userAgent string) error {
	authority := target.String()
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)
	if userAgent != "" {
		request += fmt.Sprintf("User-Agent: %s\r\n", userAgent)
	}
	request += "\r\n"
	if _, err := h.rw.w.Write([]byte(request)); err != nil {
		return fmt.Errorf("client: write CONNECT request: %w", err)
	}

	resp, err := httpconn.ReadResponse(h.rw.r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadHTTPResponse, err)
	}
	if resp.StatusCode != httpconn.StatusConnectionEstablished {
		return fmt.Errorf("%w: status %d", ErrHTTPConnectRejected, resp.StatusCode)
	}
	return nil
}
