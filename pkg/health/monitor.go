package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/history"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
)

// Membership supplies the monitor with the current cluster view.
type Membership interface {
	Snapshot() cluster.ClusterState
}

// Monitor sweeps the cluster on a timer, classifying every member and
// aggregating the results. It reads membership snapshots only and never
// blocks the coordinator; a failing check on one node does not interrupt
// checks on the others.
type Monitor struct {
	cfg     Config
	localID string
	members Membership
	local   *LocalProbe
	prober  Prober

	bus     *events.Bus
	store   history.Store
	logger  logging.Logger
	metrics *metrics.Registry

	mu       sync.RWMutex
	statuses map[string]Status
	last     ClusterHealth
	critical bool

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMonitor creates a health monitor. prober may be nil on single-node
// clusters; store and bus may be nil when history or events are not wanted.
func NewMonitor(cfg Config, localID string, members Membership, local *LocalProbe, prober Prober, bus *events.Bus, store history.Store, reg *metrics.Registry, logger logging.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if members == nil {
		return nil, fmt.Errorf("%w: membership view is required", ErrInvalidThreshold)
	}
	if local == nil {
		local = NewLocalProbe()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		cfg:      cfg,
		localID:  localID,
		members:  members,
		local:    local,
		prober:   prober,
		bus:      bus,
		store:    store,
		logger:   logger.With(logging.Component("health"), logging.NodeID(localID)),
		metrics:  reg,
		statuses: make(map[string]Status),
		stopCh:   make(chan struct{}),
	}, nil
}

// SetStore installs the history store sweeps append samples to. Must be
// called before Start.
func (m *Monitor) SetStore(store history.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// Start begins periodic sweeps.
func (m *Monitor) Start() error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		return nil
	}
	m.running = true

	m.wg.Add(1)
	go m.run()
	m.logger.Info("health monitor started",
		logging.Duration("interval", m.cfg.CheckInterval))
	return nil
}

// Stop halts periodic sweeps and waits for the current one to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.Sweep(context.Background())
	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// CheckNode performs one on-demand health check against a single node.
func (m *Monitor) CheckNode(ctx context.Context, nodeID string) CheckResult {
	state := m.members.Snapshot()
	now := time.Now()

	member, ok := state.Member(nodeID)
	if !ok || member.Status.Terminal() {
		return CheckResult{NodeID: nodeID, Status: StatusOffline, CheckedAt: now}
	}
	return m.checkMember(ctx, member, now)
}

// ClusterHealth returns the latest aggregate.
func (m *Monitor) ClusterHealth() ClusterHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyClusterHealth(m.last)
}

// Sweep checks every member once and updates the aggregate view.
func (m *Monitor) Sweep(ctx context.Context) ClusterHealth {
	state := m.members.Snapshot()
	now := time.Now()

	results := make(map[string]CheckResult, len(state.Members))
	for _, member := range state.Members {
		if member.Status.Terminal() {
			results[member.ID] = CheckResult{NodeID: member.ID, Status: StatusOffline, CheckedAt: now}
			continue
		}
		results[member.ID] = m.checkMember(ctx, member, now)
	}

	health := m.aggregate(state, results, now)
	m.publishChanges(results, now)
	m.updateCritical(health, now)
	m.record(ctx, state, health)
	return copyClusterHealth(health)
}

// checkMember measures one node. Panics inside a probe are contained and
// classified as an unhealthy check.
func (m *Monitor) checkMember(ctx context.Context, member cluster.ClusterNode, now time.Time) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health check panicked",
				logging.NodeID(member.ID),
				logging.Any("panic", r))
			res = CheckResult{
				NodeID:    member.ID,
				Status:    StatusUnhealthy,
				CheckedAt: now,
				Err:       fmt.Sprintf("check panicked: %v", r),
			}
		}
	}()

	var nodeMetrics NodeMetrics
	var probeErr error
	switch {
	case member.ID == m.localID:
		nodeMetrics = m.local.Collect()
	case m.prober != nil:
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		nodeMetrics, probeErr = m.prober.Probe(probeCtx, member.ID)
		cancel()
	}

	res = CheckResult{
		NodeID:    member.ID,
		Status:    m.classify(member, nodeMetrics, probeErr, now),
		Metrics:   nodeMetrics,
		CheckedAt: now,
	}
	if probeErr != nil {
		res.Err = probeErr.Error()
	}
	if m.metrics != nil {
		m.metrics.HealthChecksTotal.WithLabelValues(res.Status.String()).Inc()
	}
	return res
}

func (m *Monitor) classify(member cluster.ClusterNode, nm NodeMetrics, probeErr error, now time.Time) Status {
	if probeErr != nil {
		return StatusUnhealthy
	}
	if !member.LastSeenAt.IsZero() && now.Sub(member.LastSeenAt) > m.cfg.CheckInterval*3 {
		return StatusUnhealthy
	}

	t := m.cfg.Thresholds
	switch {
	case nm.CPUUtilization >= t.CPUCritical,
		nm.MemoryUtilization >= t.MemoryCritical,
		t.QueueCritical > 0 && nm.QueueDepth >= t.QueueCritical:
		return StatusUnhealthy
	case nm.CPUUtilization >= t.CPUWarning,
		nm.MemoryUtilization >= t.MemoryWarning,
		t.QueueWarning > 0 && nm.QueueDepth >= t.QueueWarning:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// aggregate computes the cluster view. The overall status is the worst
// per-node status among Up members; counts cover every checked node.
func (m *Monitor) aggregate(state cluster.ClusterState, results map[string]CheckResult, now time.Time) ClusterHealth {
	health := ClusterHealth{
		Status:    StatusHealthy,
		Nodes:     results,
		CheckedAt: now,
	}
	for _, res := range results {
		switch res.Status {
		case StatusHealthy:
			health.HealthyNodes++
		case StatusDegraded:
			health.DegradedNodes++
		case StatusUnhealthy:
			health.UnhealthyNodes++
		case StatusOffline:
			health.OfflineNodes++
		}
	}
	for _, member := range state.Members {
		if member.Status != cluster.StatusUp {
			continue
		}
		if res, ok := results[member.ID]; ok && res.Status > health.Status {
			health.Status = res.Status
		}
	}

	m.mu.Lock()
	m.last = health
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ClusterHealthStatus.Set(float64(health.Status))
		m.metrics.NodesByHealth.WithLabelValues(StatusHealthy.String()).Set(float64(health.HealthyNodes))
		m.metrics.NodesByHealth.WithLabelValues(StatusDegraded.String()).Set(float64(health.DegradedNodes))
		m.metrics.NodesByHealth.WithLabelValues(StatusUnhealthy.String()).Set(float64(health.UnhealthyNodes))
		m.metrics.NodesByHealth.WithLabelValues(StatusOffline.String()).Set(float64(health.OfflineNodes))
	}
	return health
}

// publishChanges emits NodeHealthChanged for every classification change
// since the previous sweep. Nodes that vanished from the view are reported
// Offline once and then dropped from tracking.
func (m *Monitor) publishChanges(results map[string]CheckResult, now time.Time) {
	m.mu.Lock()
	var changes []NodeHealthChanged
	for id, res := range results {
		prev, seen := m.statuses[id]
		if !seen || prev != res.Status {
			if !seen {
				prev = res.Status
			}
			changes = append(changes, NodeHealthChanged{
				NodeID:   id,
				Previous: prev,
				Current:  res.Status,
				Result:   res,
				At:       now,
			})
		}
		m.statuses[id] = res.Status
	}
	for id, prev := range m.statuses {
		if _, still := results[id]; still {
			continue
		}
		if prev != StatusOffline {
			changes = append(changes, NodeHealthChanged{
				NodeID:   id,
				Previous: prev,
				Current:  StatusOffline,
				At:       now,
			})
		}
		delete(m.statuses, id)
	}
	m.mu.Unlock()

	for _, change := range changes {
		if change.Previous == change.Current {
			continue
		}
		m.logger.Info("node health changed",
			logging.NodeID(change.NodeID),
			logging.String("previous", change.Previous.String()),
			logging.Status(change.Current.String()))
		if m.bus != nil {
			m.bus.Publish(events.TopicHealth, change)
		}
	}
}

// updateCritical raises a cluster-wide alert on the rising edge of the
// unhealthy-node threshold and clears it once the count drops back.
func (m *Monitor) updateCritical(health ClusterHealth, now time.Time) {
	crossed := health.UnhealthyNodes >= m.cfg.MinUnhealthyForCritical

	m.mu.Lock()
	rising := crossed && !m.critical
	m.critical = crossed
	m.mu.Unlock()

	if !rising {
		return
	}
	m.logger.Error("cluster health critical",
		logging.Int("unhealthy_nodes", health.UnhealthyNodes),
		logging.Int("threshold", m.cfg.MinUnhealthyForCritical))
	if m.bus != nil {
		m.bus.Publish(events.TopicAlert, CriticalAlertRaised{
			Reason:         "unhealthy node count at or above critical threshold",
			UnhealthyNodes: health.UnhealthyNodes,
			TotalNodes:     len(health.Nodes),
			At:             now,
		})
	}
}

// record appends one aggregated sample to the history store.
func (m *Monitor) record(ctx context.Context, state cluster.ClusterState, health ClusterHealth) {
	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store == nil {
		return
	}

	sample := history.ClusterMetricsSample{
		At:               health.CheckedAt,
		HealthyNodes:     health.HealthyNodes,
		DegradedNodes:    health.DegradedNodes,
		UnhealthyNodes:   health.UnhealthyNodes,
		OfflineNodes:     health.OfflineNodes,
		Members:          len(state.Members),
		ReachableMembers: len(state.Members) - state.UnreachableCount,
	}
	measured := 0
	for _, res := range health.Nodes {
		if res.Status == StatusOffline {
			continue
		}
		sample.CPUUtilization += res.Metrics.CPUUtilization
		sample.MemoryUtilization += res.Metrics.MemoryUtilization
		sample.QueueDepth += res.Metrics.QueueDepth
		measured++
	}
	if measured > 0 {
		sample.CPUUtilization /= float64(measured)
		sample.MemoryUtilization /= float64(measured)
	}

	if err := store.Append(ctx, sample); err != nil {
		m.logger.Warn("failed to record metrics sample", logging.Error(err))
	}
}

func copyClusterHealth(h ClusterHealth) ClusterHealth {
	nodes := make(map[string]CheckResult, len(h.Nodes))
	for id, res := range h.Nodes {
		nodes[id] = res
	}
	h.Nodes = nodes
	return h
}
