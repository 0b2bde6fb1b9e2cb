package partition

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidStrategy is returned when parsing an unknown strategy name.
var ErrInvalidStrategy = errors.New("invalid partition handling strategy")

// Strategy selects how ties and split-brain conditions are handled.
type Strategy int

const (
	// KeepMajority keeps the strict majority side; on an exact tie it
	// falls back to KeepOldest.
	KeepMajority Strategy = iota

	// KeepOldest keeps the side containing the member with the earliest
	// JoinedAt.
	KeepOldest

	// KeepAll keeps every side and only raises an informational alert.
	KeepAll

	// StopAll raises a critical alert and signals routing to suspend
	// cluster-wide until the partition heals.
	StopAll
)

func (s Strategy) String() string {
	switch s {
	case KeepMajority:
		return "keep-majority"
	case KeepOldest:
		return "keep-oldest"
	case KeepAll:
		return "keep-all"
	case StopAll:
		return "stop-all"
	default:
		return "unknown"
	}
}

// ParseStrategy resolves a configuration string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "keep-majority":
		return KeepMajority, nil
	case "keep-oldest":
		return KeepOldest, nil
	case "keep-all":
		return KeepAll, nil
	case "stop-all":
		return StopAll, nil
	default:
		return KeepMajority, fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
	}
}

// Severity grades a detected partition.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// NetworkPartition describes one reachability-connected component of the
// last-known membership. Instances are transient: a heal or re-split
// produces new instances with new IDs.
type NetworkPartition struct {
	ID                  string    `json:"id"`
	NodeIDs             []string  `json:"node_ids"`
	IsMajorityPartition bool      `json:"is_majority_partition"`
	Severity            Severity  `json:"severity"`
	DetectedAt          time.Time `json:"detected_at"`
}

// NetworkPartitionDetected is the event published on the partition topic, one
// per component found in a detection cycle.
type NetworkPartitionDetected struct {
	Partition NetworkPartition `json:"partition"`
	Strategy  Strategy         `json:"strategy"`
	At        time.Time        `json:"at"`
}
