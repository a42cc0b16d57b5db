package main

import (
	"testing"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

func TestBuildStrategy_SingleHop(t *testing.T) {
	s, err := buildStrategy([]string{"socks5://proxy.example.com:1080"})
	if err != nil {
		t.Fatalf("buildStrategy() error = %v", err)
	}
	if s.Kind != hostaddr.StrategyKindSingle {
		t.Errorf("Kind = %v, want StrategyKindSingle", s.Kind)
	}
	if len(s.Hops) != 1 || s.Hops[0].Host != "proxy.example.com" {
		t.Errorf("Hops = %+v, want one hop to proxy.example.com", s.Hops)
	}
}

func TestBuildStrategy_Chain(t *testing.T) {
	s, err := buildStrategy([]string{
		"socks5://a.example.com:1080",
		"http://b.example.com:8080",
	})
	if err != nil {
		t.Fatalf("buildStrategy() error = %v", err)
	}
	if s.Kind != hostaddr.StrategyKindChain {
		t.Errorf("Kind = %v, want StrategyKindChain", s.Kind)
	}
	if len(s.Hops) != 2 {
		t.Fatalf("len(Hops) = %d, want 2", len(s.Hops))
	}
	if s.Hops[0].Kind != hostaddr.ProxyKindSocks5 || s.Hops[1].Kind != hostaddr.ProxyKindHTTPTunnel {
		t.Errorf("Hops kinds = [%v, %v], want [socks5, http]", s.Hops[0].Kind, s.Hops[1].Kind)
	}
}

func TestBuildStrategy_InvalidURL(t *testing.T) {
	if _, err := buildStrategy([]string{"not-a-url"}); err == nil {
		t.Error("buildStrategy() error = nil, want error for malformed hop URL")
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"domain and port", "example.com:443", false},
		{"ip and port", "8.8.8.8:53", false},
		{"missing port", "example.com", true},
		{"bad port", "example.com:notaport", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDestination(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDestination(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestParseDestination_TrimsWhitespace(t *testing.T) {
	dest, err := parseDestination(" example.com :443")
	if err != nil {
		t.Fatalf("parseDestination() error = %v", err)
	}
	if dest.Domain() != "example.com" {
		t.Errorf("Domain() = %q, want %q", dest.Domain(), "example.com")
	}
}
