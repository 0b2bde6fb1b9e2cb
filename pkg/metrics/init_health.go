package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initHealthMetrics() {
	r.HealthChecksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_health_checks_total",
			Help: "Total health checks performed, by result",
		},
		[]string{"result"}, // healthy, degraded, unhealthy, offline
	)

	r.ProbeTimeoutsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcoord_probe_timeouts_total",
			Help: "Remote health probes that timed out",
		},
	)

	r.ProbeDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmcoord_probe_duration_seconds",
			Help:    "Duration of remote health probes in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
	)

	r.ClusterHealthStatus = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_cluster_health_status",
			Help: "Aggregated cluster health (0=healthy, 1=degraded, 2=unhealthy, 3=critical)",
		},
	)

	r.NodesByHealth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcoord_nodes_by_health",
			Help: "Number of nodes per health classification",
		},
		[]string{"status"},
	)
}
