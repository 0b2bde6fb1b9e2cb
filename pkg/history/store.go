// Package history stores time-ordered cluster metrics samples for
// retrospective queries. A fixed-size in-memory ring is the default; a
// Postgres-backed store is available for durable retention.
package history

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("history store is closed")

	// ErrInvalidRange is returned when from is after to.
	ErrInvalidRange = errors.New("invalid time range")
)

// ClusterMetricsSample is one aggregated observation of cluster load and
// health, appended once per monitoring sweep.
type ClusterMetricsSample struct {
	At                time.Time `json:"at"`
	CPUUtilization    float64   `json:"cpu_utilization"`
	MemoryUtilization float64   `json:"memory_utilization"`
	QueueDepth        int       `json:"queue_depth"`
	Members           int       `json:"members"`
	ReachableMembers  int       `json:"reachable_members"`
	HealthyNodes      int       `json:"healthy_nodes"`
	DegradedNodes     int       `json:"degraded_nodes"`
	UnhealthyNodes    int       `json:"unhealthy_nodes"`
	OfflineNodes      int       `json:"offline_nodes"`
}

// Store persists metrics samples in time order.
type Store interface {
	// Append records one sample.
	Append(ctx context.Context, sample ClusterMetricsSample) error

	// Range returns samples with At in [from, to], oldest first.
	Range(ctx context.Context, from, to time.Time) ([]ClusterMetricsSample, error)

	// Close releases the store's resources.
	Close() error
}
