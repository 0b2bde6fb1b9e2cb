// Package node assembles the coordination subsystems behind one facade:
// membership, agent routing, health monitoring, scaling advice and
// partition detection, wired over a shared transport and event bus.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/agents"
	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/config"
	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/health"
	"github.com/swarmcoord/swarmcoord/pkg/history"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
	"github.com/swarmcoord/swarmcoord/pkg/partition"
	"github.com/swarmcoord/swarmcoord/pkg/scaling"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// ErrNotStarted is returned for operations that require a started node.
var ErrNotStarted = errors.New("node is not started")

// Node is one cluster participant. All subsystems read membership through
// the coordinator's snapshots and communicate through the event bus; the
// transport is the only cross-node channel.
type Node struct {
	cfg    *config.Config
	logger logging.Logger

	metrics     *metrics.Registry
	bus         *events.Bus
	transport   transport.Transport
	coordinator *cluster.Coordinator
	registry    *agents.Registry
	router      *agents.Router
	localProbe  *health.LocalProbe
	monitor     *health.Monitor
	advisor     *scaling.Advisor
	detector    *partition.Detector
	store       history.Store
	ownsStore   bool

	mu      sync.Mutex
	started bool
	stopped bool
	pumpCtx context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a node over the given transport. dispatch handles requests
// routed to agents on this node; store may be nil, in which case the node
// opens one from its configuration on start.
func New(cfg *config.Config, tr transport.Transport, dispatch agents.LocalDispatcher, store history.Store, logger logging.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is required", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	logger = logger.With(logging.NodeID(cfg.Node.ID))

	reg := metrics.NewRegistry()
	bus := events.NewBus(reg)

	coordCfg := cluster.DefaultConfig()
	coordCfg.LocalID = cfg.Node.ID
	coordCfg.Address = cfg.Node.Address
	coordCfg.Port = cfg.Node.Port
	coordCfg.Roles = cfg.Node.Roles
	coordCfg.MinClusterSize = cfg.Cluster.MinClusterSize
	coordCfg.MaxClusterSize = cfg.Cluster.MaxClusterSize
	coordinator, err := cluster.NewCoordinator(coordCfg, bus, reg, logger)
	if err != nil {
		return nil, err
	}

	registry := agents.NewRegistry(reg, logger)
	router := agents.NewRouter(cfg.Node.ID, registry, coordinator, tr, dispatch, reg, logger)

	localProbe := health.NewLocalProbe()
	prober := health.NewTransportProber(tr, cfg.Health.ToMonitor().ProbeTimeout, reg, logger)
	monitor, err := health.NewMonitor(cfg.Health.ToMonitor(), cfg.Node.ID, coordinator, localProbe, prober, bus, nil, reg, logger)
	if err != nil {
		return nil, err
	}

	advisor, err := scaling.NewAdvisor(cfg.Scaling.ToAdvisor(), bus, reg, logger)
	if err != nil {
		return nil, err
	}

	detector := partition.NewDetector(cfg.PartitionStrategy(), coordinator, router.SuspendRouting, bus, reg, logger)

	n := &Node{
		cfg:         cfg,
		logger:      logger,
		metrics:     reg,
		bus:         bus,
		transport:   tr,
		coordinator: coordinator,
		registry:    registry,
		router:      router,
		localProbe:  localProbe,
		monitor:     monitor,
		advisor:     advisor,
		detector:    detector,
		store:       store,
	}
	n.registerHandlers()
	health.RespondProbes(tr, localProbe)
	return n, nil
}

// Start initializes the cluster: opens the history store, starts the
// transport and coordinator, announces to the seed nodes and begins
// monitoring and scaling analysis.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	if n.store == nil {
		store, err := n.openStore(ctx)
		if err != nil {
			return err
		}
		n.store = store
		n.ownsStore = true
	}
	n.monitor.SetStore(n.store)

	if err := n.transport.Start(); err != nil {
		return fmt.Errorf("transport start: %w", err)
	}
	if err := n.coordinator.Start(); err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.pumpCtx = cancel
	n.mu.Unlock()
	n.startMembershipPump(pumpCtx)
	n.startUptimeTicker(pumpCtx)

	if err := n.monitor.Start(); err != nil {
		return err
	}
	if err := n.advisor.Start(n.sampleClusterMetrics); err != nil {
		return err
	}

	if err := n.JoinCluster(ctx); err != nil {
		n.logger.Warn("initial announce failed", logging.Error(err))
	}
	n.logger.Info("node started",
		logging.String("listen_addr", n.cfg.Transport.ListenAddr),
		logging.Count(len(n.cfg.Cluster.SeedNodes)))
	return nil
}

func (n *Node) openStore(ctx context.Context) (history.Store, error) {
	if dsn := n.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		return store, nil
	}
	return history.NewMemoryStore(n.cfg.History.MemoryCapacity), nil
}

// JoinCluster announces the local node to the cluster so peers admit it.
func (n *Node) JoinCluster(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	msg, err := transport.NewMessage(transport.MsgAnnounce, n.cfg.Node.ID, n.announcePayload())
	if err != nil {
		return err
	}
	return n.transport.Broadcast(ctx, msg)
}

// LeaveCluster walks the local node through the graceful departure path and
// tells the peers.
func (n *Node) LeaveCluster(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	localID := n.cfg.Node.ID
	if err := n.coordinator.BeginLeave(localID); err != nil {
		return err
	}
	msg, err := transport.NewMessage(transport.MsgLeave, localID, leavePayload{NodeID: localID})
	if err != nil {
		return err
	}
	if err := n.transport.Broadcast(ctx, msg); err != nil {
		n.logger.Warn("leave broadcast failed", logging.Error(err))
	}
	return n.coordinator.ConfirmExit(localID)
}

// Stop shuts the node down: scaling, monitoring, event pumps, coordinator,
// transport and finally the history store.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped || !n.started {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	cancel := n.pumpCtx
	n.mu.Unlock()

	n.advisor.Stop()
	n.monitor.Stop()
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
	n.coordinator.Stop()
	if err := n.transport.Close(); err != nil {
		n.logger.Warn("transport close failed", logging.Error(err))
	}
	n.bus.Shutdown()
	if n.ownsStore && n.store != nil {
		if err := n.store.Close(); err != nil {
			n.logger.Warn("history store close failed", logging.Error(err))
		}
	}
	n.logger.Info("node stopped")
}

// RegisterAgent registers an agent hosted on this node and tells the peers.
func (n *Node) RegisterAgent(ctx context.Context, reg agents.AgentRegistration) error {
	reg.NodeID = n.cfg.Node.ID
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}
	if err := n.registry.Register(reg); err != nil {
		return err
	}
	n.broadcastAgentUpdate(ctx)
	return nil
}

// UnregisterAgent removes a local agent and tells the peers. Absent agents
// are a no-op.
func (n *Node) UnregisterAgent(ctx context.Context, agentID string) {
	n.registry.Unregister(agentID)
	n.broadcastAgentUpdate(ctx)
}

// RouteRequest routes a capability-addressed request.
func (n *Node) RouteRequest(ctx context.Context, capability string, payload []byte) (agents.RouteResult, error) {
	return n.router.RouteRequest(ctx, capability, payload)
}

// GetClusterState returns the current membership snapshot.
func (n *Node) GetClusterState() cluster.ClusterState {
	return n.coordinator.Snapshot()
}

// GetClusterHealth returns the latest aggregated health view.
func (n *Node) GetClusterHealth() health.ClusterHealth {
	return n.monitor.ClusterHealth()
}

// GetScalingRecommendation evaluates the advisor's window now.
func (n *Node) GetScalingRecommendation() scaling.Recommendation {
	return n.advisor.Recommend()
}

// DetectNetworkPartitions re-evaluates reachability components now.
func (n *Node) DetectNetworkPartitions() []partition.NetworkPartition {
	return n.detector.Detect()
}

// GetHistoricalMetrics returns stored samples in [from, to].
func (n *Node) GetHistoricalMetrics(ctx context.Context, from, to time.Time) ([]history.ClusterMetricsSample, error) {
	if n.store == nil {
		return nil, ErrNotStarted
	}
	return n.store.Range(ctx, from, to)
}

// Events returns the node's event bus for subscriptions.
func (n *Node) Events() *events.Bus {
	return n.bus
}

// LocalProbe exposes the local measurement hooks so the host application
// can wire CPU and queue-depth samplers.
func (n *Node) LocalProbe() *health.LocalProbe {
	return n.localProbe
}

// Metrics returns the node's metrics registry for serving.
func (n *Node) Metrics() *metrics.Registry {
	return n.metrics
}

func (n *Node) isStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.stopped
}

// sampleClusterMetrics turns the latest health view into one advisor sample.
func (n *Node) sampleClusterMetrics() scaling.ClusterMetrics {
	clusterHealth := n.monitor.ClusterHealth()
	sample := scaling.ClusterMetrics{
		At:              clusterHealth.CheckedAt,
		NodeUtilization: make(map[string]float64, len(clusterHealth.Nodes)),
	}
	measured := 0
	for id, res := range clusterHealth.Nodes {
		if res.Status == health.StatusOffline {
			continue
		}
		sample.CPUUtilization += res.Metrics.CPUUtilization
		sample.MemoryUtilization += res.Metrics.MemoryUtilization
		sample.QueueDepth += res.Metrics.QueueDepth
		sample.NodeUtilization[id] = res.Metrics.CPUUtilization
		measured++
	}
	if measured > 0 {
		sample.CPUUtilization /= float64(measured)
		sample.MemoryUtilization /= float64(measured)
	}
	return sample
}

func (n *Node) startUptimeTicker(ctx context.Context) {
	started := time.Now()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.metrics.UptimeSeconds.Set(time.Since(started).Seconds())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startMembershipPump reacts to membership transitions: removed members are
// purged from routing and forgotten by the partition detector.
func (n *Node) startMembershipPump(ctx context.Context) {
	sub := n.bus.Subscribe(ctx, events.TopicMembership)
	if sub == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case raw, ok := <-sub.Channel():
				if !ok {
					return
				}
				change, ok := raw.(cluster.MembershipChanged)
				if !ok {
					continue
				}
				if change.Current == cluster.StatusRemoved {
					n.registry.PurgeNode(change.Member.ID)
					n.detector.ForgetNode(change.Member.ID)
					n.detector.Detect()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
