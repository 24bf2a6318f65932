package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes rate-limit decision counts.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the rate-limit metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by scope and outcome.",
		}, []string{"scope", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions)
	}
	return m
}
