package checker

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/wire/httpconn"
	"github.com/proxyworks/tunelo/internal/wire/socks4"
)

// fakeSocks4aProxy runs a minimal SOCKS4a proxy that always grants the
// CONNECT request, then hands the raw connection to serve (if any) so
// tests can script what a prober sees past the handshake.
func fakeSocks4aProxy(t *testing.T, serve func(conn net.Conn)) hostaddr.ProxyHost {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen fake proxy: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				// socks4.ReadRequest expects the version byte already consumed.
				var version [1]byte
				if _, err := conn.Read(version[:]); err != nil {
					return
				}
				if _, err := socks4.ReadRequest(conn); err != nil {
					return
				}
				conn.Write(socks4.Granted(net.IPv4zero, 0).Bytes())
				if serve != nil {
					serve(conn)
				}
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return hostaddr.ProxyHost{Kind: hostaddr.ProxyKindSocks4a, Host: "127.0.0.1", Port: uint16(addr.Port)}
}

func TestChecker_Run_LivenessOnly(t *testing.T) {
	hop := fakeSocks4aProxy(t, nil)

	c := &Checker{
		ParallelCount: 2,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Run() returned %d reports, want 1", len(reports))
	}
	if !reports[0].Alive() {
		t.Errorf("Alive() = false, want true")
	}
}

func TestChecker_Run_DeadProxy(t *testing.T) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // closed immediately: nothing is listening on addr anymore

	hop := hostaddr.ProxyHost{Kind: hostaddr.ProxyKindSocks4a, Host: "127.0.0.1", Port: uint16(addr.Port)}
	c := &Checker{
		ParallelCount: 1,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reports[0].Alive() {
		t.Errorf("Alive() = true, want false for a closed listener")
	}
}

func TestChecker_Run_BasicProber(t *testing.T) {
	hop := fakeSocks4aProxy(t, nil)

	c := &Checker{
		ParallelCount: 1,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
		Probers:       []Prober{BasicProber{Destination: hostaddr.NewDomain("dest.test", 80)}},
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var basic *Report
	for i := range reports[0].Reports {
		if reports[0].Reports[i].Prober == ProberBasic {
			basic = &reports[0].Reports[i]
		}
	}
	if basic == nil {
		t.Fatal("no basic report found")
	}
	if !basic.OK {
		t.Errorf("basic.OK = false, want true: err=%v", basic.Err)
	}
}

func TestChecker_Run_HTTPProber(t *testing.T) {
	hop := fakeSocks4aProxy(t, func(conn net.Conn) {
		br := bufio.NewReader(conn)
		br.ReadString('\n')
		httpconn.WriteStatusLine(httpWriter{conn}, 200, "OK")
	})

	c := &Checker{
		ParallelCount: 1,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
		Probers:       []Prober{HTTPProber{URL: "http://dest.test/", ExpectedCode: 200}},
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var httpReport *Report
	for i := range reports[0].Reports {
		if reports[0].Reports[i].Prober == ProberHTTP {
			httpReport = &reports[0].Reports[i]
		}
	}
	if httpReport == nil {
		t.Fatal("no http report found")
	}
	if !httpReport.OK {
		t.Errorf("http.OK = false, want true: err=%v, code=%d", httpReport.Err, httpReport.ResponseCode)
	}
}

func TestChecker_Run_ReportsPrecedenceSorted(t *testing.T) {
	hop := fakeSocks4aProxy(t, nil)

	c := &Checker{
		ParallelCount: 1,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
		Probers:       []Prober{BasicProber{Destination: hostaddr.NewDomain("dest.test", 80)}},
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := reports[0].Reports
	if len(got) != 2 || got[0].Prober != ProberLiveness || got[1].Prober != ProberBasic {
		t.Errorf("Reports = %+v, want [liveness, basic]", got)
	}
}

func TestProber_Timeout(t *testing.T) {
	// A proxy that accepts but never replies, so the handshake read
	// blocks past ProbeTimeout.
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn // never respond; let it block until the listener closes
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	hop := hostaddr.ProxyHost{Kind: hostaddr.ProxyKindSocks4a, Host: "127.0.0.1", Port: uint16(addr.Port)}

	c := &Checker{
		ParallelCount: 1,
		ProxyServers:  []hostaddr.ProxyStrategy{hostaddr.Single(hop)},
		Probers:       []Prober{BasicProber{Destination: hostaddr.NewDomain("dest.test", 80)}},
		ProbeTimeout:  10 * time.Millisecond,
	}

	reports, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var basic *Report
	for i := range reports[0].Reports {
		if reports[0].Reports[i].Prober == ProberBasic {
			basic = &reports[0].Reports[i]
		}
	}
	if basic == nil {
		t.Fatal("no basic report found")
	}
	if !basic.Timeout {
		t.Errorf("basic.Timeout = false, want true")
	}
}

type httpWriter struct {
	net.Conn
}

func (w httpWriter) WriteString(s string) (int, error) {
	return w.Conn.Write([]byte(s))
}
