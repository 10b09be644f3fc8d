package gateway

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	socketLimited prometheus.Counter
	globalLimited prometheus.Counter
	queueDropped  prometheus.Counter
	framesDropped prometheus.Counter
	frameRetries  prometheus.Counter
	duplicates    prometheus.Counter
	actions       *prometheus.CounterVec

	queueDepth     prometheus.GaugeFunc
	connDepth      *prometheus.GaugeVec
	queueMax       prometheus.Gauge
	queueLimit     prometheus.Gauge
	queueThreshold prometheus.Gauge
	connections    prometheus.Gauge
}

// newMetrics builds the gateway collectors. deepest reports the current
// deepest outbound queue at scrape time.
func newMetrics(reg prometheus.Registerer, deepest func() float64) *metrics {
	m := &metrics{
		socketLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_socket_limit_exceeded_total",
			Help: "Actions rejected by the per-socket rate limit.",
		}),
		globalLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_global_limit_exceeded_total",
			Help: "Actions rejected by the global rate limit.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_outbound_dropped_total",
			Help: "Outbound messages dropped because a client queue was full.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Tracked frames abandoned after exhausting retries.",
		}),
		frameRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_frame_retries_total",
			Help: "Tracked frame resends.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_duplicate_actions_total",
			Help: "Actions answered from the idempotency record.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_actions_total",
			Help: "Actions by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ws_outbound_queue_depth",
			Help: "Deepest current outbound queue across connections.",
		}, deepest),
		connDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_outbound_queue_connection_depth",
			Help: "Current outbound queue depth per connection.",
		}, []string{"conn_id"}),
		queueMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_outbound_queue_max",
			Help: "Deepest outbound queue observed.",
		}),
		queueLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_outbound_queue_limit",
			Help: "Configured outbound queue capacity.",
		}),
		queueThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_outbound_queue_alert_threshold",
			Help: "Queue depth that triggers an alert.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Open client connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.socketLimited, m.globalLimited, m.queueDropped, m.framesDropped, m.frameRetries,
			m.duplicates, m.actions, m.queueDepth, m.connDepth, m.queueMax, m.queueLimit, m.queueThreshold, m.connections,
		)
	}
	return m
}
