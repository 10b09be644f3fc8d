package room

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	promotions prometheus.Counter
	respawns   prometheus.Counter
	divergence prometheus.Counter
	workers    prometheus.Gauge
}

// NewMetrics registers room collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_promotions_total",
			Help: "Followers promoted to primary after a primary exit.",
		}),
		respawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_respawns_total",
			Help: "Primaries rebuilt from the hand log without a follower.",
		}),
		divergence: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_follower_lost_total",
			Help: "Followers discarded after diverging or exiting.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_workers",
			Help: "Live room workers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promotions, m.respawns, m.divergence, m.workers)
	}
	return m
}

func (m *Metrics) promoted() {
	if m != nil {
		m.promotions.Inc()
	}
}

func (m *Metrics) respawned() {
	if m != nil {
		m.respawns.Inc()
	}
}

func (m *Metrics) followerLost() {
	if m != nil {
		m.divergence.Inc()
	}
}

func (m *Metrics) setWorkers(n int) {
	if m != nil {
		m.workers.Set(float64(n))
	}
}
