package cluster

import (
	"time"
)

// NodeStatus is the lifecycle state of a cluster member.
type NodeStatus int

const (
	// StatusJoining is the entry state for a newly announced member
	StatusJoining NodeStatus = iota
	// StatusWeaklyUp is a provisional member admitted while the cluster has
	// unreachable members
	StatusWeaklyUp
	// StatusUp is a full member, eligible for routing and leadership
	StatusUp
	// StatusLeaving is a member that announced a graceful departure
	StatusLeaving
	// StatusExiting is a departing member draining its last work
	StatusExiting
	// StatusRemoved is the terminal state; the member never returns
	StatusRemoved
)

// String returns the string representation of a NodeStatus
func (s NodeStatus) String() string {
	switch s {
	case StatusJoining:
		return "joining"
	case StatusWeaklyUp:
		return "weakly-up"
	case StatusUp:
		return "up"
	case StatusLeaving:
		return "leaving"
	case StatusExiting:
		return "exiting"
	case StatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s NodeStatus) Terminal() bool {
	return s == StatusRemoved
}

// ClusterNode describes one member of the cluster. Instances held by
// consumers are copies; the coordinator owns the canonical record and
// mutates it only inside its event loop.
type ClusterNode struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	Roles      []string   `json:"roles,omitempty"`
	Status     NodeStatus `json:"status"`
	Reachable  bool       `json:"reachable"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
}

// ClusterState is an immutable snapshot of the local cluster view. A new
// snapshot atomically replaces the previous one; holders must never mutate
// the Members slice.
type ClusterState struct {
	Members          []ClusterNode `json:"members"`
	Leader           string        `json:"leader,omitempty"`
	IsLocalLeader    bool          `json:"is_local_leader"`
	UnreachableCount int           `json:"unreachable_count"`
	IsQuorate        bool          `json:"is_quorate"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Member returns the member with the given ID, if present.
func (s ClusterState) Member(nodeID string) (ClusterNode, bool) {
	for _, m := range s.Members {
		if m.ID == nodeID {
			return m, true
		}
	}
	return ClusterNode{}, false
}

// UpMembers returns the members with Status == Up.
func (s ClusterState) UpMembers() []ClusterNode {
	up := make([]ClusterNode, 0, len(s.Members))
	for _, m := range s.Members {
		if m.Status == StatusUp {
			up = append(up, m)
		}
	}
	return up
}

// MembershipChanged is published on every lifecycle transition.
type MembershipChanged struct {
	Member   ClusterNode `json:"member"`
	Previous NodeStatus  `json:"previous"`
	Current  NodeStatus  `json:"current"`
	At       time.Time   `json:"at"`
}
