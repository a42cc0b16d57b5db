package main

import (
	"net"
	"testing"

	"github.com/proxyworks/tunelo/internal/config"
	"github.com/proxyworks/tunelo/internal/filter"
)

func TestBuildAuthManager_Disabled(t *testing.T) {
	m := buildAuthManager(config.AuthConfig{Enabled: false})
	if m.SupportedMethod([]byte{0x00, 0x02}) != 0x00 {
		t.Error("disabled auth config should still negotiate NoAuth")
	}
}

func TestBuildAuthManager_Enabled(t *testing.T) {
	m := buildAuthManager(config.AuthConfig{
		Enabled: true,
		Users:   map[string]string{"alice": "$2a$10$fakehashvalueforatest"},
	})
	if m.SupportedMethod([]byte{0x00, 0x02}) != 0x02 {
		t.Error("enabled+required auth config should refuse NoAuth in favor of UserPass")
	}
}

func TestBuildFilter_DeniesCloudMetadataByDefault(t *testing.T) {
	f := buildFilter(config.FilterConfig{})
	if got := f.FilterAddress(net.ParseIP("169.254.169.254")); got != filter.Deny {
		t.Errorf("FilterAddress(cloud metadata) = %v, want Deny even with an empty config", got)
	}
}

func TestBuildFilter_UserRulesCompose(t *testing.T) {
	f := buildFilter(config.FilterConfig{
		Mode:      "deny",
		Hostnames: []string{"blocked.example"},
		Ports:     []uint16{25},
		Addresses: []string{"10.0.0.1"},
		HostPorts: []string{"other-blocked.example:443"},
	})

	if got := f.FilterHostname("blocked.example"); got != filter.Deny {
		t.Errorf("FilterHostname(blocked.example) = %v, want Deny", got)
	}
	if got := f.FilterPort(25); got != filter.Deny {
		t.Errorf("FilterPort(25) = %v, want Deny", got)
	}
	if got := f.FilterAddress(net.ParseIP("10.0.0.1")); got != filter.Deny {
		t.Errorf("FilterAddress(10.0.0.1) = %v, want Deny", got)
	}
	if got := f.FilterHost("other-blocked.example", 443); got != filter.Deny {
		t.Errorf("FilterHost(other-blocked.example, 443) = %v, want Deny", got)
	}
	if got := f.FilterHostname("fine.example"); got != filter.Allow {
		t.Errorf("FilterHostname(fine.example) = %v, want Allow", got)
	}
}

func TestBuildFilter_AllowMode(t *testing.T) {
	f := buildFilter(config.FilterConfig{
		Mode:      "allow",
		Hostnames: []string{"allowed.example"},
	})
	if got := f.FilterHostname("allowed.example"); got != filter.Allow {
		t.Errorf("FilterHostname(allowed.example) = %v, want Allow", got)
	}
	if got := f.FilterHostname("anything-else.example"); got != filter.Deny {
		t.Errorf("FilterHostname(anything-else.example) = %v, want Deny in allow-list mode", got)
	}
}

func TestBuildFilter_IgnoresMalformedHostPort(t *testing.T) {
	// Should not panic on malformed entries; they're skipped.
	f := buildFilter(config.FilterConfig{
		HostPorts: []string{"missing-port-entry"},
	})
	if f == nil {
		t.Fatal("buildFilter() returned nil")
	}
}

func TestContainsString(t *testing.T) {
	tests := []struct {
		items  []string
		target string
		want   bool
	}{
		{[]string{"connect", "udp_associate"}, "udp_associate", true},
		{[]string{"connect"}, "udp_associate", false},
		{nil, "connect", false},
	}
	for _, tt := range tests {
		got := containsString(tt.items, tt.target)
		if got != tt.want {
			t.Errorf("containsString(%v, %q) = %v, want %v", tt.items, tt.target, got, tt.want)
		}
	}
}
