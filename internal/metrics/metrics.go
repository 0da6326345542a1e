// Package metrics exposes Prometheus instrumentation for the window engine
// and its transport adapters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms emitted by a relay client or
// server: how many payloads were sent/acked/retransmitted, how transfers
// concluded, and the shape of the adaptive receive budget over time.
type Metrics struct {
	PayloadsSent         prometheus.Counter
	PayloadsAcked        prometheus.Counter
	Retransmissions      *prometheus.CounterVec // reason: timeout
	TransfersTotal       *prometheus.CounterVec // outcome: success/failed
	UnexpectedResponses  *prometheus.CounterVec // kind: unknown/retired
	ReceiveBudgetSeconds prometheus.Histogram
	InFlight             prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec // name -> 0=closed,1=half-open,2=open
	CircuitBreakerTrips *prometheus.CounterVec

	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
}

// New registers a fresh set of metrics under namespace/subsystem. Callers
// own exactly one Metrics per process (promauto registers against the
// default registry, so constructing two with the same namespace/subsystem
// panics on duplicate registration, as intended).
func New(namespace, subsystem string) *Metrics {
	return &Metrics{
		PayloadsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "payloads_sent_total", Help: "Total number of payloads handed to Send, including retransmissions.",
		}),
		PayloadsAcked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "payloads_acked_total", Help: "Total number of payloads successfully acknowledged.",
		}),
		Retransmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "retransmissions_total", Help: "Total number of timeout-triggered retransmissions.",
		}, []string{"reason"}),
		TransfersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "transfers_total", Help: "Total number of completed Engine.Run calls by outcome.",
		}, []string{"outcome"}),
		UnexpectedResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "unexpected_responses_total", Help: "Acknowledgements for tags not in the current window, by kind.",
		}, []string{"kind"}),
		ReceiveBudgetSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "receive_budget_seconds", Help: "Distribution of the adaptive budget passed to Recv.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "in_flight", Help: "Current number of unacknowledged entries in the window.",
		}),
		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "circuit_breaker_trips_total", Help: "Total number of times a circuit breaker opened.",
		}, []string{"name"}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bytes_sent_total", Help: "Total bytes written to the transport.",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bytes_received_total", Help: "Total bytes read from the transport.",
		}),
	}
}

// ObserveBudget records one Recv budget computation.
func (m *Metrics) ObserveBudget(d time.Duration) {
	m.ReceiveBudgetSeconds.Observe(d.Seconds())
}

// RecordRetransmission records one timeout-triggered retransmission.
func (m *Metrics) RecordRetransmission() {
	m.Retransmissions.WithLabelValues("timeout").Inc()
}

// RecordTransferOutcome records how one Engine.Run call ended.
func (m *Metrics) RecordTransferOutcome(success bool) {
	if success {
		m.TransfersTotal.WithLabelValues("success").Inc()
	} else {
		m.TransfersTotal.WithLabelValues("failed").Inc()
	}
}

// RecordUnexpectedResponse records an ack for a tag outside the window,
// split by whether it was a known-retired tag or truly unknown.
func (m *Metrics) RecordUnexpectedResponse(retired bool) {
	if retired {
		m.UnexpectedResponses.WithLabelValues("retired").Inc()
	} else {
		m.UnexpectedResponses.WithLabelValues("unknown").Inc()
	}
}

// SetInFlight records the current number of unacknowledged entries in the
// window, for the InFlight gauge.
func (m *Metrics) SetInFlight(n int) {
	m.InFlight.Set(float64(n))
}

// UpdateCircuitBreakerState records the current numeric state of a named
// circuit breaker (0=closed, 1=half-open, 2=open).
func (m *Metrics) UpdateCircuitBreakerState(name string, state float64) {
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerTrip records one open-circuit transition.
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(name).Inc()
}
