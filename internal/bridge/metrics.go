package bridge

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "fsr_bridge"

// Metrics are the hub's Prometheus collectors, held in a private registry
// so several hubs (as in tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived  *prometheus.CounterVec
	malformedFrames *prometheus.CounterVec
	droppedFrames   prometheus.Counter
	broadcasts      prometheus.Counter
	droppedMessages prometheus.Counter
	clients         prometheus.Gauge
	liveLinks       prometheus.Gauge
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Decoded serial frames by port and kind.",
		}, []string{"port", "kind"}),
		malformedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_frames_total",
			Help:      "Serial frames discarded as malformed, by port.",
		}, []string{"port"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_frames_total",
			Help:      "Serial frames dropped because the hub queue was full.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to clients.",
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_client_messages_total",
			Help:      "Messages dropped because a client queue was full.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients",
			Help:      "Connected clients.",
		}),
		liveLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_links",
			Help:      "Serial links still able to transmit.",
		}),
	}
	m.registry.MustRegister(
		m.framesReceived,
		m.malformedFrames,
		m.droppedFrames,
		m.broadcasts,
		m.droppedMessages,
		m.clients,
		m.liveLinks,
	)
	return m
}

// Registry exposes the collectors for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
