package scaling

import "time"

// Action is the kind of capacity change an advisor recommends.
type Action int

const (
	ActionNone Action = iota
	ActionScaleUp
	ActionScaleDown
	ActionRebalance
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "no-action"
	case ActionScaleUp:
		return "scale-up"
	case ActionScaleDown:
		return "scale-down"
	case ActionRebalance:
		return "rebalance"
	default:
		return "unknown"
	}
}

// Urgency grades how quickly a recommendation should be acted on.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ExpectedImpact estimates what acting on a recommendation would change.
type ExpectedImpact struct {
	UtilizationDelta float64 `json:"utilization_delta"`
	QueueDelta       int     `json:"queue_delta"`
}

// ClusterMetrics is one observation the advisor consumes: aggregate load
// plus per-node utilization for spread analysis.
type ClusterMetrics struct {
	At                time.Time          `json:"at"`
	CPUUtilization    float64            `json:"cpu_utilization"`
	MemoryUtilization float64            `json:"memory_utilization"`
	QueueDepth        int                `json:"queue_depth"`
	NodeUtilization   map[string]float64 `json:"node_utilization,omitempty"`
}

// Recommendation is the advisor's verdict. Transient: recommendations are
// published and returned, never persisted.
type Recommendation struct {
	Action          Action         `json:"action"`
	NodeCountChange int            `json:"node_count_change"`
	Reason          string         `json:"reason"`
	Confidence      float64        `json:"confidence"`
	Urgency         Urgency        `json:"urgency"`
	ExpectedImpact  ExpectedImpact `json:"expected_impact"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// ScalingRecommended is the event published on the scaling topic whenever the
// advisor completes an analysis cycle, including coalesced no-action results.
type ScalingRecommended struct {
	Recommendation Recommendation `json:"recommendation"`
	At             time.Time      `json:"at"`
}
