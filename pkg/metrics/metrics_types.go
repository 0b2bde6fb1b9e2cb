package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the coordination subsystem
type Registry struct {
	// Cluster Metrics
	ClusterMembersTotal        prometheus.Gauge
	ClusterReachableMembers    prometheus.Gauge
	ClusterIsQuorate           prometheus.Gauge
	ClusterIsLeader            prometheus.Gauge
	MembershipTransitionsTotal *prometheus.CounterVec
	ProtocolViolationsTotal    prometheus.Counter

	// Routing Metrics
	AgentsRegistered     prometheus.Gauge
	CapabilitiesTotal    prometheus.Gauge
	RoutedRequestsTotal  *prometheus.CounterVec
	RoutingFailuresTotal *prometheus.CounterVec

	// Health Metrics
	HealthChecksTotal   *prometheus.CounterVec
	ProbeTimeoutsTotal  prometheus.Counter
	ProbeDuration       prometheus.Histogram
	ClusterHealthStatus prometheus.Gauge
	NodesByHealth       *prometheus.GaugeVec

	// Scaling Metrics
	RecommendationsTotal     *prometheus.CounterVec
	CooldownCoalescedTotal   prometheus.Counter
	RecommendationConfidence prometheus.Gauge

	// Partition Metrics
	PartitionsDetectedTotal prometheus.Counter
	CurrentPartitions       prometheus.Gauge
	RoutingSuspended        prometheus.Gauge

	// Transport Metrics
	MessagesSentTotal     *prometheus.CounterVec
	MessagesReceivedTotal *prometheus.CounterVec
	SendErrorsTotal       prometheus.Counter
	PayloadBytesTotal     *prometheus.CounterVec

	// System Metrics
	UptimeSeconds        prometheus.Gauge
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initClusterMetrics()
	r.initRoutingMetrics()
	r.initHealthMetrics()
	r.initScalingMetrics()
	r.initPartitionMetrics()
	r.initTransportMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
