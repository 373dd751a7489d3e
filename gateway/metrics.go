package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway collectors. A nil Registerer yields working but
// unregistered collectors.
type Metrics struct {
	framesReceived   *prometheus.CounterVec
	framesSent       *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	closes           *prometheus.CounterVec
	reconnects       prometheus.Counter
	dialFailures     prometheus.Counter
	heartbeatLatency prometheus.Histogram
	heartbeatMissed  prometheus.Counter
	status           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Frames received from the gateway by opcode",
		}, []string{"op"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_sent_total",
			Help: "Frames sent to the gateway by opcode",
		}, []string{"op"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_decode_errors_total",
			Help: "Frames dropped because they could not be decoded",
		}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_closes_total",
			Help: "Connection closes by close-code class",
		}, []string{"class"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_reconnects_total",
			Help: "Reconnect attempts",
		}),
		dialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dial_failures_total",
			Help: "Failed connection attempts",
		}),
		heartbeatLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_heartbeat_latency_seconds",
			Help:    "Time between a heartbeat and its acknowledgement",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		heartbeatMissed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_heartbeat_missed_total",
			Help: "Connections closed because a heartbeat was not acknowledged",
		}),
		status: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connection_status",
			Help: "0 disconnected, 1 connecting, 2 connected, 3 ready, 4 reconnecting",
		}),
	}
}

func (m *Metrics) frameReceived(op Opcode) { m.framesReceived.WithLabelValues(op.String()).Inc() }

func (m *Metrics) frameSent(op Opcode) { m.framesSent.WithLabelValues(op.String()).Inc() }

func (m *Metrics) closed(class CloseClass) { m.closes.WithLabelValues(class.String()).Inc() }

func (m *Metrics) observeLatency(d time.Duration) { m.heartbeatLatency.Observe(d.Seconds()) }

func (m *Metrics) setStatus(s ConnectionStatus) { m.status.Set(float64(s)) }
