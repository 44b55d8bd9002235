package serial

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "graylogic_serial"

// Metrics holds the Prometheus collectors for the serial bridge.
//
// A nil *Metrics is valid and records nothing, so sessions and the engine
// can run without a registry in tests.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	RoutingFailures  *prometheus.CounterVec
	UnexpectedFrames *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	PendingRequests  prometheus.Gauge
	AckLatency       prometheus.Histogram
}

// NewMetrics creates the bridge collectors and registers them with reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of decoded frames received per device and kind",
			},
			[]string{"device", "kind"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of routed commands written per device",
			},
			[]string{"device"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "decode_errors_total",
				Help:      "Total number of lines that failed to decode",
			},
			[]string{"device"},
		),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Total number of readings the log sink rejected",
			},
			[]string{"device"},
		),
		RoutingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "routing",
				Name:      "failures_total",
				Help:      "Total number of local commands with no target device",
			},
			[]string{"device"},
		),
		UnexpectedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "unexpected_total",
				Help:      "Total number of inbound routed commands dropped",
			},
			[]string{"device"},
		),
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "commands",
				Name:      "outcomes_total",
				Help:      "Total number of routed command outcomes by status",
			},
			[]string{"status"},
		),
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "connected",
				Help:      "Port session state (1=connected, 0=closed)",
			},
			[]string{"device"},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "commands",
				Name:      "pending",
				Help:      "Number of routed commands awaiting acknowledgment",
			},
		),
		AckLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "commands",
				Name:      "ack_latency_seconds",
				Help:      "Round-trip time from routed command to acknowledgment",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("serial metrics already registered: %w", err)
			}
			return nil, fmt.Errorf("registering serial metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived, m.FramesSent, m.DecodeErrors, m.SinkErrors,
		m.RoutingFailures, m.UnexpectedFrames, m.Outcomes, m.SessionState,
		m.PendingRequests, m.AckLatency,
	}
}

func (m *Metrics) frameReceived(device string, kind Kind) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(device, kind.Label()).Inc()
}

func (m *Metrics) frameSent(device string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(device).Inc()
}

func (m *Metrics) decodeError(device string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(device).Inc()
}

func (m *Metrics) sinkError(device string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(device).Inc()
}

func (m *Metrics) routingFailure(device string) {
	if m == nil {
		return
	}
	m.RoutingFailures.WithLabelValues(device).Inc()
}

func (m *Metrics) unexpectedFrame(device string) {
	if m == nil {
		return
	}
	m.UnexpectedFrames.WithLabelValues(device).Inc()
}

func (m *Metrics) sessionState(device string, state SessionState) {
	if m == nil {
		return
	}
	v := 0.0
	if state == SessionConnected {
		v = 1
	}
	m.SessionState.WithLabelValues(device).Set(v)
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o.Status)).Inc()
	if o.Status == StatusAcknowledged {
		m.AckLatency.Observe(o.Elapsed.Seconds())
	}
}

func (m *Metrics) pending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}
