package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterMembersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_cluster_members_total",
			Help: "Total number of members in the local cluster view",
		},
	)

	r.ClusterReachableMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_cluster_reachable_members",
			Help: "Number of members currently marked reachable",
		},
	)

	r.ClusterIsQuorate = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_cluster_is_quorate",
			Help: "Whether the cluster meets the configured minimum size (1=yes, 0=no)",
		},
	)

	r.ClusterIsLeader = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_cluster_is_leader",
			Help: "Whether the local node derives itself as leader (1=yes, 0=no)",
		},
	)

	r.MembershipTransitionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_membership_transitions_total",
			Help: "Total lifecycle transitions applied to members",
		},
		[]string{"from", "to"},
	)

	r.ProtocolViolationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcoord_protocol_violations_total",
			Help: "Illegal lifecycle transitions rejected by the coordinator",
		},
	)
}
