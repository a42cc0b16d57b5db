// Package main is the tunelo CLI: thin cobra commands that load a
// config.Config and wire the core library's services together, per
// spec.md §6's CLI surface.
//
// Grounded on _examples/postalsys-Muti-Metroo's cmd/muti-metroo/main.go
// command-group and graceful-shutdown shape.
package main

import (
	"log/slog"
	"net"
	"strconv"

	"github.com/proxyworks/tunelo/internal/auth"
	"github.com/proxyworks/tunelo/internal/config"
	"github.com/proxyworks/tunelo/internal/filter"
	"github.com/proxyworks/tunelo/internal/logging"
	"github.com/proxyworks/tunelo/internal/metrics"
	"github.com/proxyworks/tunelo/internal/server/httpconn"
	"github.com/proxyworks/tunelo/internal/server/socks"
	"github.com/proxyworks/tunelo/internal/transport"
	"github.com/proxyworks/tunelo/internal/udpassoc"
)

// buildTransport assembles the resolve/filter/connect/relay pipeline
// every ingress server shares, per spec.md §4.6.
func buildTransport(m *metrics.Metrics, f filter.HostFilter) *transport.Transport {
	return transport.New(transport.SystemResolver{}, f, transport.DirectConnector{}, m)
}

// buildAuthManager translates config.AuthConfig (username -> bcrypt
// hash) into an auth.Manager.
func buildAuthManager(cfg config.AuthConfig) *auth.Manager {
	if !cfg.Enabled {
		return auth.NewManager(auth.BuildAuthenticators(auth.Config{})...)
	}
	return auth.NewManager(auth.BuildAuthenticators(auth.Config{
		Enabled:     true,
		Required:    true,
		HashedUsers: cfg.Users,
	})...)
}

// buildSOCKSServer constructs a socks.Server from the top-level config.
func buildSOCKSServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, f filter.HostFilter) *socks.Server {
	authMgr := buildAuthManager(cfg.SOCKS.Auth)

	var udpMgr *udpassoc.Manager
	if containsString(cfg.SOCKS.SupportedCommands, "udp_associate") {
		ip := net.ParseIP(cfg.SOCKS.ListenIP)
		udpMgr = udpassoc.NewManager(ip, cfg.SOCKS.UDPPorts, transport.SystemResolver{}, f, m)
	}

	return socks.NewServer(socks.Config{
		ListenIP:             net.ParseIP(cfg.SOCKS.ListenIP),
		ListenPort:           cfg.SOCKS.ListenPort,
		ConnectionTimeout:    cfg.SOCKS.ConnectionTimeout,
		TCPKeepalive:         cfg.SOCKS.TCPKeepalive,
		MaxConnectionsPerSec: cfg.SOCKS.MaxConnectionsPerSec,
		AuthManager:          authMgr,
		Transport:            buildTransport(m, f),
		UDP:                  udpMgr,
		Logger:               logger,
		Metrics:              m,
	})
}

// buildHTTPServer constructs an httpconn.Server from the top-level
// config.
func buildHTTPServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, f filter.HostFilter) *httpconn.Server {
	return httpconn.NewServer(httpconn.Config{
		ListenIP:             net.ParseIP(cfg.HTTP.ListenIP),
		ListenPort:           cfg.HTTP.ListenPort,
		ConnectionTimeout:    cfg.HTTP.ConnectionTimeout,
		MaxConnectionsPerSec: cfg.HTTP.MaxConnectionsPerSec,
		Transport:            buildTransport(m, f),
		Logger:               logger,
		Metrics:              m,
	})
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	return logging.NewLogger(cfg.Level, cfg.Format)
}

// cloudMetadataFilter denies the well-known cloud-metadata address, a
// baseline admission rule composed ahead of any user-configured filter.
func cloudMetadataFilter() *filter.Filter {
	f := filter.New(filter.DenyListMode)
	f.AddAddress(net.ParseIP("169.254.169.254"))
	return f
}

// buildFilter translates config.FilterConfig into a filter.HostFilter,
// composed with the baseline cloud-metadata deny rule per spec.md §4.7's
// "denies if any inner filter denies" composition law.
func buildFilter(cfg config.FilterConfig) filter.HostFilter {
	mode := filter.DenyListMode
	if cfg.Mode == "allow" {
		mode = filter.AllowListMode
	}

	f := filter.New(mode)
	for _, h := range cfg.Hostnames {
		f.AddHostname(h)
	}
	for _, p := range cfg.Ports {
		f.AddPort(p)
	}
	for _, a := range cfg.Addresses {
		if ip := net.ParseIP(a); ip != nil {
			f.AddAddress(ip)
		}
	}
	for _, hp := range cfg.HostPorts {
		host, portStr, err := net.SplitHostPort(hp)
		if err != nil {
			continue
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			continue
		}
		f.AddHostPort(host, uint16(port))
	}

	return filter.NewComposer(cloudMetadataFilter(), f)
}

func containsString(items []string, target string) bool {
	for _, s := range items {
		if s == target {
			return true
		}
	}
	return false
}
