package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.AgentsRegistered = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_agents_registered",
			Help: "Number of agents currently registered on this node's registry",
		},
	)

	r.CapabilitiesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_capabilities_total",
			Help: "Number of distinct capabilities with at least one registered agent",
		},
	)

	r.RoutedRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_routed_requests_total",
			Help: "Total requests routed, by delivery path",
		},
		[]string{"delivery"}, // local, remote
	)

	r.RoutingFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_routing_failures_total",
			Help: "Total routing failures, by reason",
		},
		[]string{"reason"}, // capability_not_found, at_capacity, suspended, transport
	)
}
