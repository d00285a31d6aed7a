// Package metrics provides Prometheus metrics for telebridge.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "telebridge"
)

// Direction label values for pump metrics.
const (
	DirectionOutbound = "outbound" // datagram -> channel
	DirectionInbound  = "inbound"  // channel -> datagram
)

// Termination reason label values.
const (
	ReasonReceiveError = "receive_error"
	ReasonWriteError   = "write_error"
	ReasonReadError    = "read_error"
	ReasonEndOfStream  = "end_of_stream"
	ReasonWrongStream  = "wrong_stream_variant"
	ReasonAcceptError  = "accept_error"
	ReasonShutdown     = "shutdown"
)

// Metrics contains all Prometheus metrics for the bridge.
type Metrics struct {
	// Forwarding metrics
	DatagramsForwarded *prometheus.CounterVec
	BytesForwarded     *prometheus.CounterVec
	SendErrors         *prometheus.CounterVec

	// Pump lifecycle metrics
	PumpTerminations *prometheus.CounterVec
	BridgeUp         prometheus.Gauge

	// Channel metrics
	SendStreamsCreated prometheus.Counter
	StreamsAccepted    prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		DatagramsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_forwarded_total",
			Help:      "Total datagrams forwarded by direction",
		}, []string{"direction"}),
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total payload bytes forwarded by direction",
		}, []string{"direction"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total non-fatal UDP send errors by direction",
		}, []string{"direction"}),

		PumpTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_terminations_total",
			Help:      "Total pump loop terminations by direction and reason",
		}, []string{"direction", "reason"}),
		BridgeUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_up",
			Help:      "1 while a bridge instance is running, 0 otherwise",
		}),

		SendStreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_streams_created_total",
			Help:      "Total outbound sub-streams created on the secure channel",
		}),
		StreamsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_accepted_total",
			Help:      "Total inbound sub-streams accepted from the secure channel",
		}),
	}

	return m
}

// RecordForward records one forwarded datagram.
func (m *Metrics) RecordForward(direction string, bytes int) {
	m.DatagramsForwarded.WithLabelValues(direction).Inc()
	m.BytesForwarded.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSendError records a non-fatal datagram send failure.
func (m *Metrics) RecordSendError(direction string) {
	m.SendErrors.WithLabelValues(direction).Inc()
}

// RecordPumpTermination records a pump loop exiting.
func (m *Metrics) RecordPumpTermination(direction, reason string) {
	m.PumpTerminations.WithLabelValues(direction, reason).Inc()
}

// RecordSendStreamCreated records an outbound sub-stream being created.
func (m *Metrics) RecordSendStreamCreated() {
	m.SendStreamsCreated.Inc()
}

// RecordStreamAccepted records an inbound sub-stream being accepted.
func (m *Metrics) RecordStreamAccepted() {
	m.StreamsAccepted.Inc()
}

// SetBridgeUp sets the bridge running gauge.
func (m *Metrics) SetBridgeUp(up bool) {
	if up {
		m.BridgeUp.Set(1)
	} else {
		m.BridgeUp.Set(0)
	}
}
