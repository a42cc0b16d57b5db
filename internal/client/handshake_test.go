package client

import (
	"net"
	"testing"
	"time"

	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/wire/httpconn"
	"github.com/proxyworks/tunelo/internal/wire/socks4"
	"github.com/proxyworks/tunelo/internal/wire/socks5"
)

func TestHandshake_Socks4aConnect_Granted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := socks4.ReadRequest(skipVersionByte(server)); err != nil {
			t.Errorf("server: ReadRequest() error = %v", err)
			return
		}
		reply := socks4.Granted(net.IPv4zero, 0)
		server.Write(reply.Bytes())
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 80)
	if err := h.Socks4aConnect(dest, []byte("id")); err != nil {
		t.Fatalf("Socks4aConnect() error = %v", err)
	}
}

func TestHandshake_Socks4aConnect_Rejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		socks4.ReadRequest(skipVersionByte(server))
		reply := socks4.Rejected(net.IPv4zero, 0)
		server.Write(reply.Bytes())
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 80)
	if err := h.Socks4aConnect(dest, nil); err != ErrProxyRejected {
		t.Errorf("Socks4aConnect() error = %v, want ErrProxyRejected", err)
	}
}

func TestHandshake_Socks5Connect_NoAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := socks5.ReadHandshakeRequest(skipVersionByte(server)); err != nil {
			t.Errorf("server: ReadHandshakeRequest() error = %v", err)
			return
		}
		reply := socks5.HandshakeReply{Method: socks5.MethodNoAuth}
		server.Write(reply.Bytes())

		if _, err := socks5.ReadRequest(server); err != nil {
			t.Errorf("server: ReadRequest() error = %v", err)
			return
		}
		bound := hostaddr.NewSocket(net.IPv4zero, 0)
		repBytes, err := socks5.NewReply(socks5.ReplySucceeded, bound).Bytes()
		if err != nil {
			t.Errorf("server: encode reply: %v", err)
			return
		}
		server.Write(repBytes)
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 443)
	if _, err := h.Socks5Connect(dest, nil, nil); err != nil {
		t.Fatalf("Socks5Connect() error = %v", err)
	}
}

func TestHandshake_Socks5Connect_UserPass(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := socks5.ReadHandshakeRequest(skipVersionByte(server)); err != nil {
			t.Errorf("server: ReadHandshakeRequest() error = %v", err)
			return
		}
		server.Write(socks5.HandshakeReply{Method: socks5.MethodUserPass}.Bytes())

		req, err := socks5.ReadUserPassRequest(server)
		if err != nil {
			t.Errorf("server: ReadUserPassRequest() error = %v", err)
			return
		}
		if req.Username != "alice" || req.Password != "secret" {
			t.Errorf("server: got creds %q/%q, want alice/secret", req.Username, req.Password)
		}
		server.Write(socks5.UserPassReply{Status: socks5.AuthSuccess}.Bytes())

		if _, err := socks5.ReadRequest(server); err != nil {
			t.Errorf("server: ReadRequest() error = %v", err)
			return
		}
		bound := hostaddr.NewSocket(net.IPv4zero, 0)
		repBytes, _ := socks5.NewReply(socks5.ReplySucceeded, bound).Bytes()
		server.Write(repBytes)
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 443)
	user, pass := "alice", "secret"
	if _, err := h.Socks5Connect(dest, &user, &pass); err != nil {
		t.Fatalf("Socks5Connect() error = %v", err)
	}
}

func TestHandshake_Socks5Connect_HostUnreachable(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		socks5.ReadHandshakeRequest(skipVersionByte(server))
		server.Write(socks5.HandshakeReply{Method: socks5.MethodNoAuth}.Bytes())
		socks5.ReadRequest(server)
		bound := hostaddr.NewSocket(net.IPv4zero, 0)
		repBytes, _ := socks5.NewReply(socks5.ReplyHostUnreachable, bound).Bytes()
		server.Write(repBytes)
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 443)
	if _, err := h.Socks5Connect(dest, nil, nil); err != ErrHostUnreachable {
		t.Errorf("Socks5Connect() error = %v, want ErrHostUnreachable", err)
	}
}

func TestHandshake_HTTPConnect_Established(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		server.Read(buf)
		httpconn.WriteStatusLine(textWriter{server}, httpconn.StatusConnectionEstablished, httpconn.ReasonConnectionEstablished)
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 443)
	if err := h.HTTPConnect(dest, "test-agent"); err != nil {
		t.Fatalf("HTTPConnect() error = %v", err)
	}
}

func TestHandshake_HTTPConnect_Rejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		server.Read(buf)
		httpconn.WriteStatusLine(textWriter{server}, httpconn.StatusNotFound, httpconn.ReasonNotFound)
	}()

	h := NewHandshake(client)
	dest := hostaddr.NewDomain("example.com", 443)
	if err := h.HTTPConnect(dest, ""); err == nil {
		t.Fatal("HTTPConnect() error = nil, want rejection error")
	}
}

// skipVersionByte reads off and discards SOCKS5's leading version
// byte, mirroring the server dispatcher's "version byte consumed
// already" contract that ReadHandshakeRequest assumes.
func skipVersionByte(r net.Conn) net.Conn {
	var b [1]byte
	r.Read(b[:])
	return r
}

type textWriter struct {
	net.Conn
}

func (t textWriter) WriteString(s string) (int, error) {
	return t.Conn.Write([]byte(s))
}
