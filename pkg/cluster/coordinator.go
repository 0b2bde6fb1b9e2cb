package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"

	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// Coordinator maintains the authoritative local view of cluster membership.
//
// Concurrency model: all mutations funnel through a single event loop, so
// member records are never touched by two goroutines. Snapshot reads go
// through an atomic.Value and never wait on the loop.
type Coordinator struct {
	cfg     Config
	members map[string]*ClusterNode // owned by the event loop

	cmds     chan command
	snapshot atomic.Value // holds ClusterState

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex

	bus     *events.Bus
	logger  logging.Logger
	metrics *metrics.Registry
}

type command struct {
	fn    func() error
	reply chan error
}

// NewCoordinator creates a coordinator. Bus and metrics registry may be nil.
func NewCoordinator(cfg Config, bus *events.Bus, reg *metrics.Registry, logger logging.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = DefaultConfig().CommandQueueSize
	}

	c := &Coordinator{
		cfg:     cfg,
		members: make(map[string]*ClusterNode),
		cmds:    make(chan command, cfg.CommandQueueSize),
		stopCh:  make(chan struct{}),
		bus:     bus,
		logger:  logger.With(logging.Component("cluster"), logging.NodeID(cfg.LocalID)),
		metrics: reg,
	}
	c.snapshot.Store(ClusterState{Timestamp: time.Now()})
	return c, nil
}

// Start admits the local node and begins the event loop.
func (c *Coordinator) Start() error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return nil
	}
	c.running = true
	c.runningMu.Unlock()

	now := time.Now()
	local := &ClusterNode{
		ID:         c.cfg.LocalID,
		Address:    c.cfg.Address,
		Port:       c.cfg.Port,
		Roles:      append([]string(nil), c.cfg.Roles...),
		Status:     StatusJoining,
		Reachable:  true,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	c.members[local.ID] = local
	c.promote()
	c.publishSnapshot()

	c.wg.Add(1)
	go c.run()

	c.logger.Info("coordinator started")
	return nil
}

// Stop terminates the event loop. Pending commands are rejected.
func (c *Coordinator) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

// LocalID returns the local node's ID.
func (c *Coordinator) LocalID() string {
	return c.cfg.LocalID
}

// Snapshot returns the current immutable cluster view without blocking on
// the event loop.
func (c *Coordinator) Snapshot() ClusterState {
	return c.snapshot.Load().(ClusterState)
}

// run is the serialized event loop.
func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case cmd := <-c.cmds:
			err := cmd.fn()
			c.promote()
			c.publishSnapshot()
			cmd.reply <- err
		}
	}
}

// exec submits a mutation to the event loop and waits for its result.
func (c *Coordinator) exec(fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case c.cmds <- cmd:
	case <-c.stopCh:
		return ErrCoordinatorStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.stopCh:
		return ErrCoordinatorStopped
	}
}

// ApplyTransportEvent folds one raw connectivity event into the membership
// state. Replaying the same event is a no-op.
func (c *Coordinator) ApplyTransportEvent(ev transport.ConnectivityEvent) error {
	return c.exec(func() error {
		member, ok := c.members[ev.NodeID]
		if !ok {
			// Connectivity noise about nodes we never admitted
			c.logger.Debug("connectivity event for unknown node",
				logging.NodeID(ev.NodeID), logging.String("kind", ev.Kind.String()))
			return nil
		}
		if member.Status.Terminal() {
			return nil
		}

		switch ev.Kind {
		case transport.NodeReachable:
			if !member.Reachable {
				member.Reachable = true
				c.logger.Info("member reachable", logging.NodeID(member.ID))
			}
			member.LastSeenAt = ev.Observed

		case transport.NodeUnreachable:
			if member.ID == c.cfg.LocalID {
				return nil
			}
			if member.Reachable {
				member.Reachable = false
				c.logger.Warn("member unreachable", logging.NodeID(member.ID))
			}

		case transport.NodeTerminated:
			if member.ID == c.cfg.LocalID {
				return nil
			}
			member.Reachable = false
			return c.transition(member, StatusRemoved)
		}
		return nil
	})
}

// AddMember admits a node in Joining state. Re-admitting a live member just
// refreshes its LastSeenAt; a removed member may not return under the same
// ID.
func (c *Coordinator) AddMember(node ClusterNode) error {
	return c.exec(func() error {
		if node.ID == "" {
			return ErrInvalidNodeID
		}

		if existing, ok := c.members[node.ID]; ok {
			if existing.Status.Terminal() {
				return ErrMemberRemoved
			}
			existing.LastSeenAt = time.Now()
			return nil
		}

		if c.cfg.MaxClusterSize > 0 && c.liveCount() >= c.cfg.MaxClusterSize {
			return ErrClusterFull
		}

		now := time.Now()
		admitted := node
		admitted.Status = StatusJoining
		admitted.Reachable = true
		admitted.JoinedAt = now
		admitted.LastSeenAt = now
		c.members[admitted.ID] = &admitted

		c.logger.Info("member admitted",
			logging.NodeID(admitted.ID),
			logging.String("address", admitted.Address))
		c.emitChange(admitted, StatusJoining, StatusJoining)
		return nil
	})
}

// BeginLeave starts a graceful departure for a member.
func (c *Coordinator) BeginLeave(nodeID string) error {
	return c.exec(func() error {
		member, ok := c.members[nodeID]
		if !ok {
			return ErrUnknownMember
		}
		return c.transition(member, StatusLeaving)
	})
}

// ConfirmExit moves a leaving member to Exiting once its work is drained.
func (c *Coordinator) ConfirmExit(nodeID string) error {
	return c.exec(func() error {
		member, ok := c.members[nodeID]
		if !ok {
			return ErrUnknownMember
		}
		return c.transition(member, StatusExiting)
	})
}

// Touch refreshes a member's heartbeat timestamp.
func (c *Coordinator) Touch(nodeID string) error {
	return c.exec(func() error {
		member, ok := c.members[nodeID]
		if !ok {
			return ErrUnknownMember
		}
		if !member.Status.Terminal() {
			member.LastSeenAt = time.Now()
		}
		return nil
	})
}

// transition applies a lifecycle transition, rejecting illegal moves.
// Must run inside the event loop.
func (c *Coordinator) transition(member *ClusterNode, to NodeStatus) error {
	if member.Status == to {
		return nil
	}
	if !CanTransition(member.Status, to) {
		c.logger.Error("protocol violation",
			logging.NodeID(member.ID),
			logging.String("from", member.Status.String()),
			logging.String("to", to.String()))
		if c.metrics != nil {
			c.metrics.ProtocolViolationsTotal.Inc()
		}
		return ErrProtocolViolation
	}

	previous := member.Status
	member.Status = to

	c.logger.Info("member transitioned",
		logging.NodeID(member.ID),
		logging.String("from", previous.String()),
		logging.String("to", to.String()))
	if c.metrics != nil {
		c.metrics.MembershipTransitionsTotal.WithLabelValues(previous.String(), to.String()).Inc()
	}
	c.emitChange(*member, previous, to)
	return nil
}

// promote advances provisional members. With no unreachable members present,
// Joining and WeaklyUp members become Up; otherwise Joining members are
// admitted WeaklyUp until reachability clears. Must run inside the event
// loop.
func (c *Coordinator) promote() {
	anyUnreachable := false
	for _, m := range c.members {
		if !m.Status.Terminal() && !m.Reachable {
			anyUnreachable = true
			break
		}
	}

	for _, m := range c.members {
		switch m.Status {
		case StatusJoining:
			if anyUnreachable {
				c.transition(m, StatusWeaklyUp)
			} else {
				c.transition(m, StatusUp)
			}
		case StatusWeaklyUp:
			if !anyUnreachable {
				c.transition(m, StatusUp)
			}
		}
	}
}

// publishSnapshot rebuilds and atomically installs the immutable view.
// Must run inside the event loop.
func (c *Coordinator) publishSnapshot() {
	members := make([]ClusterNode, 0, len(c.members))
	unreachable := 0
	quorumCount := 0
	for _, m := range c.members {
		copied := *m
		copied.Roles = append([]string(nil), m.Roles...)
		members = append(members, copied)

		if m.Status.Terminal() {
			continue
		}
		if !m.Reachable {
			unreachable++
		} else if m.Status == StatusUp || m.Status == StatusWeaklyUp {
			quorumCount++
		}
	}

	slices.SortFunc(members, func(a, b ClusterNode) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	leader, hasLeader := DeriveLeader(members)
	state := ClusterState{
		Members:          members,
		UnreachableCount: unreachable,
		IsQuorate:        quorumCount >= c.cfg.MinClusterSize,
		Timestamp:        time.Now(),
	}
	if hasLeader {
		state.Leader = leader
		state.IsLocalLeader = leader == c.cfg.LocalID
	}

	c.snapshot.Store(state)

	if c.metrics != nil {
		live := 0
		reachable := 0
		for _, m := range members {
			if !m.Status.Terminal() {
				live++
				if m.Reachable {
					reachable++
				}
			}
		}
		c.metrics.ClusterMembersTotal.Set(float64(live))
		c.metrics.ClusterReachableMembers.Set(float64(reachable))
		if state.IsQuorate {
			c.metrics.ClusterIsQuorate.Set(1)
		} else {
			c.metrics.ClusterIsQuorate.Set(0)
		}
		if state.IsLocalLeader {
			c.metrics.ClusterIsLeader.Set(1)
		} else {
			c.metrics.ClusterIsLeader.Set(0)
		}
	}
}

// liveCount counts non-terminal members. Must run inside the event loop.
func (c *Coordinator) liveCount() int {
	n := 0
	for _, m := range c.members {
		if !m.Status.Terminal() {
			n++
		}
	}
	return n
}

func (c *Coordinator) emitChange(member ClusterNode, previous, current NodeStatus) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.TopicMembership, MembershipChanged{
		Member:   member,
		Previous: previous,
		Current:  current,
		At:       time.Now(),
	})
}
