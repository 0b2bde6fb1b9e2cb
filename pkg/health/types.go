package health

import "time"

// Status classifies a node's observed condition. Ordering matters: higher
// values are worse, and cluster aggregation takes the worst value observed.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusOffline
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// NodeMetrics is one point-in-time measurement of a node's load.
// Utilizations are fractions in [0,1].
type NodeMetrics struct {
	CPUUtilization    float64 `json:"cpu_utilization"`
	MemoryUtilization float64 `json:"memory_utilization"`
	QueueDepth        int     `json:"queue_depth"`
	HeapBytes         uint64  `json:"heap_bytes"`
	Goroutines        int     `json:"goroutines"`
}

// CheckResult is the outcome of one health check against one node.
type CheckResult struct {
	NodeID    string      `json:"node_id"`
	Status    Status      `json:"status"`
	Metrics   NodeMetrics `json:"metrics"`
	CheckedAt time.Time   `json:"checked_at"`
	Err       string      `json:"err,omitempty"`
}

// ClusterHealth aggregates the latest per-node results. Status is the worst
// per-node status among Up members.
type ClusterHealth struct {
	Status         Status                 `json:"status"`
	Nodes          map[string]CheckResult `json:"nodes"`
	HealthyNodes   int                    `json:"healthy_nodes"`
	DegradedNodes  int                    `json:"degraded_nodes"`
	UnhealthyNodes int                    `json:"unhealthy_nodes"`
	OfflineNodes   int                    `json:"offline_nodes"`
	CheckedAt      time.Time              `json:"checked_at"`
}

// NodeHealthChanged is published when a node's classification changes.
type NodeHealthChanged struct {
	NodeID   string
	Previous Status
	Current  Status
	Result   CheckResult
	At       time.Time
}

// CriticalAlertRaised is published when the unhealthy-node count crosses the
// configured critical threshold.
type CriticalAlertRaised struct {
	Reason         string
	UnhealthyNodes int
	TotalNodes     int
	At             time.Time
}
