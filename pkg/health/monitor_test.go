package health

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/history"
)

type staticMembership struct {
	mu    sync.Mutex
	state cluster.ClusterState
}

func (s *staticMembership) Snapshot() cluster.ClusterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *staticMembership) set(state cluster.ClusterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// fakeProber serves canned metrics or failures per node.
type fakeProber struct {
	mu      sync.Mutex
	metrics map[string]NodeMetrics
	fail    map[string]error
	panics  map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		metrics: make(map[string]NodeMetrics),
		fail:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (p *fakeProber) Probe(_ context.Context, nodeID string) (NodeMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics[nodeID] {
		panic("prober exploded")
	}
	if err, ok := p.fail[nodeID]; ok {
		return NodeMetrics{}, err
	}
	return p.metrics[nodeID], nil
}

func upState(now time.Time, ids ...string) cluster.ClusterState {
	members := make([]cluster.ClusterNode, 0, len(ids))
	for i, id := range ids {
		members = append(members, cluster.ClusterNode{
			ID:         id,
			Address:    "10.0.0.1",
			Port:       7000 + i,
			Status:     cluster.StatusUp,
			Reachable:  true,
			LastSeenAt: now,
		})
	}
	return cluster.ClusterState{Members: members, Timestamp: now}
}

func newTestMonitor(t *testing.T, members Membership, prober Prober, bus *events.Bus, store history.Store) *Monitor {
	t.Helper()
	m, err := NewMonitor(DefaultConfig(), "node-1", members, nil, prober, bus, store, nil, nil)
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	return m
}

func TestClassifyThresholds(t *testing.T) {
	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2")}
	prober := newFakeProber()
	m := newTestMonitor(t, membership, prober, nil, nil)

	cases := []struct {
		name    string
		metrics NodeMetrics
		want    Status
	}{
		{"all clear", NodeMetrics{CPUUtilization: 0.10, MemoryUtilization: 0.20}, StatusHealthy},
		{"cpu at warning", NodeMetrics{CPUUtilization: 0.75}, StatusDegraded},
		{"memory at warning", NodeMetrics{MemoryUtilization: 0.80}, StatusDegraded},
		{"queue at warning", NodeMetrics{QueueDepth: 100}, StatusDegraded},
		{"cpu at critical", NodeMetrics{CPUUtilization: 0.90}, StatusUnhealthy},
		{"memory at critical", NodeMetrics{MemoryUtilization: 0.95}, StatusUnhealthy},
		{"queue at critical", NodeMetrics{QueueDepth: 500}, StatusUnhealthy},
	}
	for _, tc := range cases {
		prober.mu.Lock()
		prober.metrics["node-2"] = tc.metrics
		prober.mu.Unlock()

		res := m.CheckNode(context.Background(), "node-2")
		if res.Status != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, res.Status)
		}
	}
}

func TestProbeFailureIsUnhealthy(t *testing.T) {
	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2")}
	prober := newFakeProber()
	prober.fail["node-2"] = ErrProbeTimeout
	m := newTestMonitor(t, membership, prober, nil, nil)

	res := m.CheckNode(context.Background(), "node-2")
	if res.Status != StatusUnhealthy {
		t.Errorf("Expected Unhealthy on probe failure, got %s", res.Status)
	}
	if res.Err == "" {
		t.Error("Expected the probe error to be recorded")
	}
}

func TestStaleHeartbeatIsUnhealthy(t *testing.T) {
	now := time.Now()
	state := upState(now, "node-1", "node-2")
	state.Members[1].LastSeenAt = now.Add(-DefaultConfig().CheckInterval * 4)
	membership := &staticMembership{state: state}
	m := newTestMonitor(t, membership, newFakeProber(), nil, nil)

	res := m.CheckNode(context.Background(), "node-2")
	if res.Status != StatusUnhealthy {
		t.Errorf("Expected Unhealthy for stale heartbeat, got %s", res.Status)
	}
}

func TestOfflineClassification(t *testing.T) {
	now := time.Now()
	state := upState(now, "node-1", "node-2")
	state.Members[1].Status = cluster.StatusRemoved
	membership := &staticMembership{state: state}
	m := newTestMonitor(t, membership, newFakeProber(), nil, nil)

	if res := m.CheckNode(context.Background(), "node-2"); res.Status != StatusOffline {
		t.Errorf("Expected Offline for removed member, got %s", res.Status)
	}
	if res := m.CheckNode(context.Background(), "ghost"); res.Status != StatusOffline {
		t.Errorf("Expected Offline for absent node, got %s", res.Status)
	}
}

func TestSweepAggregatesWorstOfUpMembers(t *testing.T) {
	now := time.Now()
	state := upState(now, "node-1", "node-2", "node-3")
	// node-3 is degraded but only WeaklyUp; it must not drive the aggregate
	state.Members[2].Status = cluster.StatusWeaklyUp
	membership := &staticMembership{state: state}

	prober := newFakeProber()
	prober.metrics["node-2"] = NodeMetrics{CPUUtilization: 0.80} // degraded
	prober.metrics["node-3"] = NodeMetrics{CPUUtilization: 0.95} // unhealthy
	m := newTestMonitor(t, membership, prober, nil, nil)

	health := m.Sweep(context.Background())
	if health.Status != StatusDegraded {
		t.Errorf("Expected cluster Degraded from worst Up member, got %s", health.Status)
	}
	if health.DegradedNodes != 1 || health.UnhealthyNodes != 1 {
		t.Errorf("Unexpected counts: %+v", health)
	}
}

func TestSweepContainsPanics(t *testing.T) {
	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2", "node-3")}
	prober := newFakeProber()
	prober.panics["node-2"] = true
	m := newTestMonitor(t, membership, prober, nil, nil)

	health := m.Sweep(context.Background())

	res2 := health.Nodes["node-2"]
	if res2.Status != StatusUnhealthy || !strings.Contains(res2.Err, "panicked") {
		t.Errorf("Expected contained panic on node-2, got %+v", res2)
	}
	if health.Nodes["node-3"].Status != StatusHealthy {
		t.Error("A panicking check must not affect other nodes")
	}
}

func TestNodeHealthChangedEvents(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Shutdown()
	sub := bus.Subscribe(context.Background(), events.TopicHealth)

	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2")}
	prober := newFakeProber()
	m := newTestMonitor(t, membership, prober, bus, nil)

	m.Sweep(context.Background())

	// Degrade node-2 and sweep again
	prober.mu.Lock()
	prober.metrics["node-2"] = NodeMetrics{CPUUtilization: 0.80}
	prober.mu.Unlock()
	m.Sweep(context.Background())

	timeout := time.After(time.Second)
	for {
		select {
		case raw := <-sub.Channel():
			change, ok := raw.(NodeHealthChanged)
			if !ok {
				t.Fatalf("Unexpected event payload %T", raw)
			}
			if change.NodeID == "node-2" && change.Current == StatusDegraded {
				if change.Previous != StatusHealthy {
					t.Errorf("Expected previous Healthy, got %s", change.Previous)
				}
				return
			}
		case <-timeout:
			t.Fatal("Timed out waiting for NodeHealthChanged")
		}
	}
}

func TestCriticalAlertRisingEdge(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Shutdown()
	sub := bus.Subscribe(context.Background(), events.TopicAlert)

	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2", "node-3")}
	prober := newFakeProber()
	prober.fail["node-2"] = ErrProbeTimeout
	prober.fail["node-3"] = ErrProbeTimeout
	m := newTestMonitor(t, membership, prober, bus, nil)

	m.Sweep(context.Background())
	m.Sweep(context.Background())

	select {
	case raw := <-sub.Channel():
		alert, ok := raw.(CriticalAlertRaised)
		if !ok {
			t.Fatalf("Unexpected event payload %T", raw)
		}
		if alert.UnhealthyNodes != 2 {
			t.Errorf("Expected 2 unhealthy nodes, got %d", alert.UnhealthyNodes)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for critical alert")
	}

	// The alert is edge-triggered: the second sweep must not emit another
	select {
	case raw := <-sub.Channel():
		t.Fatalf("Unexpected second alert: %+v", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSweepRecordsHistory(t *testing.T) {
	now := time.Now()
	membership := &staticMembership{state: upState(now, "node-1", "node-2")}
	prober := newFakeProber()
	prober.metrics["node-2"] = NodeMetrics{CPUUtilization: 0.40, QueueDepth: 7}
	store := history.NewMemoryStore(8)
	defer store.Close()

	m := newTestMonitor(t, membership, prober, nil, store)
	m.Sweep(context.Background())

	samples, err := store.Range(context.Background(), now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 recorded sample, got %d", len(samples))
	}
	if samples[0].Members != 2 || samples[0].QueueDepth != 7 {
		t.Errorf("Unexpected sample: %+v", samples[0])
	}
}
