package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPartitionMetrics() {
	r.PartitionsDetectedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcoord_partitions_detected_total",
			Help: "Network partition components detected across all cycles",
		},
	)

	r.CurrentPartitions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_current_partitions",
			Help: "Reachability components in the most recent detection cycle",
		},
	)

	r.RoutingSuspended = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_routing_suspended",
			Help: "Whether routing is suspended by the stop-all partition policy (1=yes)",
		},
	)
}
