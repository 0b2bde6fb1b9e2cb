package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidNodeID      = errors.New("node ID cannot be empty")
	ErrInvalidNodeAddress = errors.New("node address cannot be empty")
	ErrInvalidClusterSize = errors.New("minimum cluster size must be at least 1")
)

// Lifecycle errors
var (
	ErrProtocolViolation  = errors.New("illegal lifecycle transition")
	ErrUnknownMember      = errors.New("member not found in cluster state")
	ErrMemberRemoved      = errors.New("member has been removed from the cluster")
	ErrClusterFull        = errors.New("cluster is at its configured maximum size")
	ErrCoordinatorStopped = errors.New("coordinator is not running")
)
