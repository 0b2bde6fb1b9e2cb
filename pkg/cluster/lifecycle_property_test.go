package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// applyOp decodes one generated operation and applies it to the coordinator.
// Errors are expected for rejected operations and are not failures in
// themselves; the properties check the state that results.
func applyOp(c *Coordinator, op int) {
	nodeID := fmt.Sprintf("node-%d", op%4)
	when := time.Now()

	switch op / 4 {
	case 0:
		c.AddMember(ClusterNode{
			ID:      nodeID,
			Address: fmt.Sprintf("10.0.0.%d", op%4+1),
			Port:    7000,
		})
	case 1:
		c.ApplyTransportEvent(transport.ConnectivityEvent{
			Kind: transport.NodeReachable, NodeID: nodeID, Observed: when,
		})
	case 2:
		c.ApplyTransportEvent(transport.ConnectivityEvent{
			Kind: transport.NodeUnreachable, NodeID: nodeID, Observed: when,
		})
	case 3:
		c.ApplyTransportEvent(transport.ConnectivityEvent{
			Kind: transport.NodeTerminated, NodeID: nodeID, Observed: when,
		})
	case 4:
		c.BeginLeave(nodeID)
	case 5:
		c.ConfirmExit(nodeID)
	}
}

func newPropertyCoordinator() (*Coordinator, error) {
	cfg := DefaultConfig()
	cfg.LocalID = "local"
	cfg.Address = "10.0.0.100"
	cfg.Port = 7000
	c, err := NewCoordinator(cfg, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// TestLifecycleInvariants verifies that no sequence of operations can drive
// any member's status outside the lifecycle graph.
func TestLifecycleInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Property 1: every observed status change is an edge of the graph
	properties.Property("status only moves along lifecycle edges", prop.ForAll(
		func(ops []int) bool {
			c, err := newPropertyCoordinator()
			if err != nil {
				return false
			}
			defer c.Stop()

			last := map[string]NodeStatus{}
			for _, m := range c.Snapshot().Members {
				last[m.ID] = m.Status
			}

			for _, op := range ops {
				applyOp(c, op)
				for _, m := range c.Snapshot().Members {
					prev, seen := last[m.ID]
					if seen && prev != m.Status && !CanTransition(prev, m.Status) {
						return false
					}
					last[m.ID] = m.Status
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 23)),
	))

	// Property 2: Removed is terminal
	properties.Property("removed members never resurrect", prop.ForAll(
		func(ops []int) bool {
			c, err := newPropertyCoordinator()
			if err != nil {
				return false
			}
			defer c.Stop()

			removed := map[string]bool{}
			for _, op := range ops {
				applyOp(c, op)
				for _, m := range c.Snapshot().Members {
					if removed[m.ID] && m.Status != StatusRemoved {
						return false
					}
					if m.Status == StatusRemoved {
						removed[m.ID] = true
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 23)),
	))

	// Property 3: members are never silently dropped; unreachable nodes
	// stay in the view until explicitly terminated
	properties.Property("membership view only grows", prop.ForAll(
		func(ops []int) bool {
			c, err := newPropertyCoordinator()
			if err != nil {
				return false
			}
			defer c.Stop()

			known := map[string]bool{"local": true}
			for _, op := range ops {
				applyOp(c, op)
				seen := map[string]bool{}
				for _, m := range c.Snapshot().Members {
					seen[m.ID] = true
					known[m.ID] = true
				}
				for id := range known {
					if !seen[id] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 23)),
	))

	properties.TestingRun(t)
}
