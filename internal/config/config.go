// Package config provides configuration loading for the proxy engine:
// a YAML-driven tree of socks-server / http-server / checker /
// proxy-strategy / logging options, following spec.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete proxy engine configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	SOCKS    SOCKSConfig    `yaml:"socks_server"`
	HTTP     HTTPConfig     `yaml:"http_server"`
	Checker  CheckerConfig  `yaml:"checker"`
	Strategy StrategyConfig `yaml:"proxy_strategy"`
	Filter   FilterConfig   `yaml:"filter"`
}

// LoggingConfig selects the logger's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SOCKSConfig is the "socks server" configuration surface enumerated
// in spec.md §6.
type SOCKSConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ListenIP             string        `yaml:"listen_ip"`
	ListenPort           uint16        `yaml:"listen_port"`
	SupportedVersions    []string      `yaml:"supported_versions"` // "v4", "v5"
	SupportedCommands    []string      `yaml:"supported_commands"` // "connect", "bind", "udp_associate"
	UDPPorts             []uint16      `yaml:"udp_ports"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	TCPKeepalive         time.Duration `yaml:"tcp_keepalive"`
	UDPCacheExpiry       time.Duration `yaml:"udp_cache_expiry_duration"`
	MaxConnectionsPerSec float64       `yaml:"max_connections_per_second"`
	Auth                 AuthConfig    `yaml:"auth"`
}

// AuthConfig configures the SOCKS5 username/password sub-negotiation.
type AuthConfig struct {
	Enabled bool              `yaml:"enabled"`
	Users   map[string]string `yaml:"users"` // username -> bcrypt hash
}

// HTTPConfig is the "http server" configuration surface (HTTP CONNECT
// ingress).
type HTTPConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ListenIP             string        `yaml:"listen_ip"`
	ListenPort           uint16        `yaml:"listen_port"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	MaxConnectionsPerSec float64       `yaml:"max_connections_per_second"`
}

// CheckerConfig is the "checker" configuration surface.
type CheckerConfig struct {
	ParallelCount int           `yaml:"parallel_count"`
	ProxyServers  []string      `yaml:"proxy_servers"` // proxy URLs
	Probers       []string      `yaml:"probers"`       // "liveness", "basic", "http"
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`

	// BasicDestination is the target "host:port" the "basic" prober
	// dials through the proxy.
	BasicDestination string `yaml:"basic_destination"`

	// HTTP prober parameters.
	HTTPMethod       string `yaml:"http_method"`
	HTTPURL          string `yaml:"http_url"`
	HTTPExpectedCode int    `yaml:"http_expected_code"`
}

// StrategyConfig is the "proxy strategy" configuration surface: either
// a single upstream proxy URL or an ordered chain of them.
type StrategyConfig struct {
	Single string   `yaml:"single"`
	Chain  []string `yaml:"chain"`
}

// FilterConfig is the admission-filter configuration surface (spec.md
// §4.7): a set of hostnames/ports/addresses/host:port pairs interpreted
// as an allow list or a deny list.
type FilterConfig struct {
	Mode      string   `yaml:"mode"` // "allow" or "deny"
	Hostnames []string `yaml:"hostnames"`
	Ports     []uint16 `yaml:"ports"`
	Addresses []string `yaml:"addresses"`
	HostPorts []string `yaml:"host_ports"` // "host:port"
}

// Default returns a Config populated with sensible defaults, following
// the teacher's Default() factory convention.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		SOCKS: SOCKSConfig{
			Enabled:              false,
			ListenIP:             "127.0.0.1",
			ListenPort:           1080,
			SupportedVersions:    []string{"v4", "v5"},
			SupportedCommands:    []string{"connect", "udp_associate"},
			UDPPorts:             []uint16{},
			ConnectionTimeout:    5 * time.Minute,
			TCPKeepalive:         30 * time.Second,
			UDPCacheExpiry:       5 * time.Minute,
			MaxConnectionsPerSec: 0,
		},
		HTTP: HTTPConfig{
			Enabled:           false,
			ListenIP:          "127.0.0.1",
			ListenPort:        8080,
			ConnectionTimeout: 5 * time.Minute,
		},
		Checker: CheckerConfig{
			ParallelCount: 4,
			Probers:       []string{"liveness"},
			ProbeTimeout:  10 * time.Second,
		},
	}
}

// Load reads and parses a Config from the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a Config from YAML bytes, starting from Default() so
// unspecified fields retain their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
