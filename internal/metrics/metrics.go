// Package metrics provides Prometheus metrics for the proxy engine,
// backing spec.md §4.6/§5's TransportMetrics and the checker's report
// counts.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tunelo"

// Metrics contains all Prometheus metrics exported by a running proxy
// engine instance.
type Metrics struct {
	// Relay/transport metrics (spec.md §4.6 "TransportMetrics")
	BytesReceived    prometheus.Counter
	BytesTransmitted prometheus.Counter
	RelayActive      prometheus.Gauge
	RelayTotal       prometheus.Counter
	ClientActive     prometheus.Gauge
	ClientTotal      prometheus.Counter
	RemoteActive     prometheus.Gauge
	RemoteTotal      prometheus.Counter

	// Server-service metrics
	ConnectionsAccepted *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	HandshakeLatency    *prometheus.HistogramVec
	HandshakeErrors     *prometheus.CounterVec

	// UDP-associate metrics
	UDPAssociationsActive prometheus.Gauge
	UDPAssociationsTotal  prometheus.Counter
	UDPDatagramsRelayed   prometheus.Counter
	UDPDatagramsDropped   *prometheus.CounterVec

	// Checker metrics
	CheckerProbesTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, backed by
// the Prometheus default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, letting callers run several independent instances (e.g.
// one per test case) without colliding on global registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received from remotes across all relays",
		}),
		BytesTransmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transmitted_total",
			Help:      "Total bytes transmitted to remotes across all relays",
		}),
		RelayActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_active",
			Help:      "Number of currently active bidirectional relays",
		}),
		RelayTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Total number of relays started",
		}),
		ClientActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_connections_active",
			Help:      "Number of currently active client-side connections",
		}),
		ClientTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_connections_total",
			Help:      "Total client-side connections accepted",
		}),
		RemoteActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_connections_active",
			Help:      "Number of currently active remote-side connections",
		}),
		RemoteTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_connections_total",
			Help:      "Total remote-side connections opened",
		}),

		ConnectionsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total connections accepted by protocol",
		}, []string{"protocol"}),
		ConnectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total connections rejected by protocol and reason",
		}, []string{"protocol", "reason"}),
		HandshakeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of server handshake latency by protocol",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"protocol"}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake errors by protocol and error kind",
		}, []string{"protocol", "kind"}),

		UDPAssociationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "udp_associations_active",
			Help:      "Number of currently active UDP associations",
		}),
		UDPAssociationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_associations_total",
			Help:      "Total UDP associations created",
		}),
		UDPDatagramsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_relayed_total",
			Help:      "Total UDP datagrams relayed in either direction",
		}),
		UDPDatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_dropped_total",
			Help:      "Total UDP datagrams dropped by reason",
		}, []string{"reason"}),

		CheckerProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checker_probes_total",
			Help:      "Total checker probes run by prober kind and outcome",
		}, []string{"prober", "outcome"}),
	}
}

// RecordAccept records a newly accepted connection for protocol.
func (m *Metrics) RecordAccept(protocol string) {
	m.ConnectionsAccepted.WithLabelValues(protocol).Inc()
}

// RecordReject records a rejected connection for protocol and reason.
func (m *Metrics) RecordReject(protocol, reason string) {
	m.ConnectionsRejected.WithLabelValues(protocol, reason).Inc()
}

// RecordHandshake records handshake latency for protocol.
func (m *Metrics) RecordHandshake(protocol string, latencySeconds float64) {
	m.HandshakeLatency.WithLabelValues(protocol).Observe(latencySeconds)
}

// RecordHandshakeError records a handshake error for protocol and kind.
func (m *Metrics) RecordHandshakeError(protocol, kind string) {
	m.HandshakeErrors.WithLabelValues(protocol, kind).Inc()
}

// RecordUDPAssociationOpen records a new UDP association.
func (m *Metrics) RecordUDPAssociationOpen() {
	m.UDPAssociationsActive.Inc()
	m.UDPAssociationsTotal.Inc()
}

// RecordUDPAssociationClose records a UDP association being torn down.
func (m *Metrics) RecordUDPAssociationClose() {
	m.UDPAssociationsActive.Dec()
}

// RecordUDPDatagramRelayed records a successfully relayed UDP datagram.
func (m *Metrics) RecordUDPDatagramRelayed() {
	m.UDPDatagramsRelayed.Inc()
}

// RecordUDPDatagramDropped records a dropped UDP datagram by reason.
func (m *Metrics) RecordUDPDatagramDropped(reason string) {
	m.UDPDatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordCheckerProbe records a checker probe outcome.
func (m *Metrics) RecordCheckerProbe(prober, outcome string) {
	m.CheckerProbesTotal.WithLabelValues(prober, outcome).Inc()
}
