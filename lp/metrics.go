package lp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors updated after every solve
type Metrics struct {
	Solves   *prometheus.CounterVec
	Nodes    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the solver collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Solves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xlayer",
			Subsystem: "lp",
			Name:      "solves_total",
			Help:      "Number of MIP solves by backend and termination status.",
		}, []string{"backend", "status"}),
		Nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xlayer",
			Subsystem: "lp",
			Name:      "nodes_total",
			Help:      "Number of branch-and-bound nodes whose relaxation was solved.",
		}, []string{"backend"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xlayer",
			Subsystem: "lp",
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock time of MIP solves.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"backend"}),
	}
}

func (mt *Metrics) observe(backend string, res *Result) {
	if mt == nil {
		return
	}
	mt.Solves.WithLabelValues(backend, res.Status.String()).Inc()
	mt.Nodes.WithLabelValues(backend).Add(float64(res.Nodes))
	mt.Duration.WithLabelValues(backend).Observe(res.WallTime.Seconds())
}
