package agents

import "time"

// PerformanceEstimate describes an agent's expected service characteristics,
// advertised at registration time.
type PerformanceEstimate struct {
	ExpectedLatency    time.Duration `json:"expected_latency"`
	MaxThroughput      float64       `json:"max_throughput"`
	CurrentUtilization float64       `json:"current_utilization"`
}

// ResourceRequirements describes what an agent needs from its host node.
type ResourceRequirements struct {
	CPUCores float64 `json:"cpu_cores"`
	MemoryMB int     `json:"memory_mb"`
	GPUs     int     `json:"gpus"`
}

// AgentCapability is a named skill an agent advertises. The ID is the tag
// requests are routed by; the remaining fields are advisory.
type AgentCapability struct {
	ID                  string               `json:"id"`
	AgentType           string               `json:"agent_type"`
	SupportedOperations []string             `json:"supported_operations,omitempty"`
	Performance         PerformanceEstimate  `json:"performance"`
	Resources           ResourceRequirements `json:"resources"`
}

// AgentRegistration binds an agent instance to its hosting node with a
// static capability set and a concurrency limit.
type AgentRegistration struct {
	AgentID       string            `json:"agent_id"`
	NodeID        string            `json:"node_id"`
	Capabilities  []AgentCapability `json:"capabilities"`
	MaxConcurrent int               `json:"max_concurrent"`
	RegisteredAt  time.Time         `json:"registered_at"`
}

// capabilityIDs returns the set of capability tags in registration order.
func (r AgentRegistration) capabilityIDs() []string {
	ids := make([]string, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		ids = append(ids, c.ID)
	}
	return ids
}

// Request is a routed unit of work addressed to a capability.
type Request struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	AgentID    string `json:"agent_id"`
	Payload    []byte `json:"payload,omitempty"`
}

// RouteResult reports where a routed request landed.
type RouteResult struct {
	RequestID string
	AgentID   string
	NodeID    string
	Remote    bool
}
