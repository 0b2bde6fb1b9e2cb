package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initScalingMetrics() {
	r.RecommendationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_scaling_recommendations_total",
			Help: "Scaling recommendations emitted, by action",
		},
		[]string{"action"}, // no_action, scale_up, scale_down, rebalance
	)

	r.CooldownCoalescedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcoord_scaling_cooldown_coalesced_total",
			Help: "Recommendations coalesced to no-action by the cooldown window",
		},
	)

	r.RecommendationConfidence = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcoord_scaling_recommendation_confidence",
			Help: "Confidence of the most recent non-trivial recommendation [0,1]",
		},
	)
}
