package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/proxyworks/tunelo/internal/filter"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/metrics"
)

type stubResolver struct {
	ips []net.IP
	err error
}

func (s stubResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return s.ips, s.err
}

type stubConnector struct {
	conn net.Conn
	err  error
	got  *net.TCPAddr
}

func (s *stubConnector) ConnectAddr(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	s.got = addr
	return s.conn, s.err
}

func TestTransport_Resolve_Socket(t *testing.T) {
	tr := New(stubResolver{}, nil, &stubConnector{}, nil)

	h := hostaddr.NewSocket(net.ParseIP("10.0.0.1"), 443)
	addr, err := tr.Resolve(context.Background(), h)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if addr.Port != 443 || !addr.IP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("Resolve() = %v, want 10.0.0.1:443", addr)
	}
}

func TestTransport_Resolve_Domain(t *testing.T) {
	tr := New(stubResolver{ips: []net.IP{net.ParseIP("93.184.216.34")}}, nil, &stubConnector{}, nil)

	h := hostaddr.NewDomain("example.com", 80)
	addr, err := tr.Resolve(context.Background(), h)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if addr.Port != 80 || !addr.IP.Equal(net.ParseIP("93.184.216.34")) {
		t.Errorf("Resolve() = %v, want 93.184.216.34:80", addr)
	}
}

func TestTransport_Resolve_NoAddresses(t *testing.T) {
	tr := New(stubResolver{ips: nil}, nil, &stubConnector{}, nil)

	_, err := tr.Resolve(context.Background(), hostaddr.NewDomain("nowhere.invalid", 80))
	if !errors.Is(err, ErrNoAddressResolvedToHost) {
		t.Errorf("Resolve() error = %v, want ErrNoAddressResolvedToHost", err)
	}
}

func TestTransport_Resolve_ResolverError(t *testing.T) {
	wantErr := errors.New("boom")
	tr := New(stubResolver{err: wantErr}, nil, &stubConnector{}, nil)

	_, err := tr.Resolve(context.Background(), hostaddr.NewDomain("nowhere.invalid", 80))
	if !errors.Is(err, ErrFailedToResolveDomain) {
		t.Errorf("Resolve() error = %v, want ErrFailedToResolveDomain", err)
	}
}

func TestTransport_Connect_DeniedByFilter(t *testing.T) {
	f := filter.New(filter.DenyListMode)
	f.AddHostname("blocked.example")

	tr := New(stubResolver{}, f, &stubConnector{}, nil)

	_, err := tr.Connect(context.Background(), hostaddr.NewDomain("blocked.example", 80))
	if !errors.Is(err, ErrConnectForbiddenHost) {
		t.Errorf("Connect() error = %v, want ErrConnectForbiddenHost", err)
	}
}

func TestTransport_Connect_Allowed(t *testing.T) {
	client, remote := net.Pipe()
	defer remote.Close()

	connector := &stubConnector{conn: client}
	tr := New(stubResolver{ips: []net.IP{net.ParseIP("1.2.3.4")}}, nil, connector, nil)

	conn, err := tr.Connect(context.Background(), hostaddr.NewDomain("example.com", 443))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn != client {
		t.Errorf("Connect() returned unexpected conn")
	}
	if connector.got == nil || connector.got.Port != 443 {
		t.Errorf("ConnectAddr() called with %v, want port 443", connector.got)
	}
}

func TestTransport_ConnectAddr_DeniedBySocketFilter(t *testing.T) {
	f := filter.New(filter.DenyListMode)
	f.AddAddress(net.ParseIP("169.254.169.254"))

	tr := New(stubResolver{}, f, &stubConnector{}, nil)

	addr := &net.TCPAddr{IP: net.ParseIP("169.254.169.254"), Port: 80}
	_, err := tr.ConnectAddr(context.Background(), addr)
	if !errors.Is(err, ErrConnectForbiddenHost) {
		t.Errorf("ConnectAddr() error = %v, want ErrConnectForbiddenHost", err)
	}
}

func TestTransport_Relay(t *testing.T) {
	clientA, clientB := net.Pipe()
	remoteA, remoteB := net.Pipe()

	tr := New(nil, nil, nil, metrics.Default())

	done := make(chan error, 1)
	go func() { done <- tr.Relay(clientA, remoteA) }()

	go func() {
		io.Copy(io.Discard, remoteB)
	}()

	clientB.Write([]byte("hello"))
	buf := make([]byte, 5)
	remoteB.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(remoteB, buf)
	if err != nil {
		t.Fatalf("read from remote side: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("relayed data = %q, want %q", buf[:n], "hello")
	}

	clientB.Close()
	remoteB.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay() did not return after both sides closed")
	}
}
