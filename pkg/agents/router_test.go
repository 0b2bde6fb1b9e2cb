package agents

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// staticMembership serves a fixed snapshot to the router.
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

func upMembers(ids ...string) cluster.ClusterState {
	members := make([]cluster.ClusterNode, 0, len(ids))
	for i, id := range ids {
		members = append(members, cluster.ClusterNode{
			ID:        id,
			Address:   "10.0.0.1",
			Port:      7000 + i,
			Status:    cluster.StatusUp,
			Reachable: true,
		})
	}
	return cluster.ClusterState{Members: members, Timestamp: time.Now()}
}

func TestRouteRequestLocal(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Register(testRegistration("agent-1", "node-1", 2, "summarize"))

	var delivered Request
	dispatch := func(ctx context.Context, req Request) error {
		delivered = req
		return nil
	}
	membership := &staticMembership{state: upMembers("node-1")}
	router := NewRouter("node-1", registry, membership, nil, dispatch, nil, nil)

	result, err := router.RouteRequest(context.Background(), "summarize", []byte("doc"))
	if err != nil {
		t.Fatalf("RouteRequest failed: %v", err)
	}
	if result.Remote {
		t.Error("Expected local delivery")
	}
	if result.AgentID != "agent-1" || delivered.AgentID != "agent-1" {
		t.Errorf("Expected dispatch to agent-1, got result=%s dispatched=%s",
			result.AgentID, delivered.AgentID)
	}
	if delivered.ID == "" || delivered.ID != result.RequestID {
		t.Errorf("Request ID mismatch: %q vs %q", delivered.ID, result.RequestID)
	}
	if load, _ := registry.Load("agent-1"); load != 0 {
		t.Errorf("Budget not released after dispatch, load=%d", load)
	}
}

// TestRouteRequestConcurrentSaturation registers two max-1 agents and drives
// three concurrent requests: each agent serves exactly one, the third fails
// with at-capacity.
func TestRouteRequestConcurrentSaturation(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Register(testRegistration("agent-a", "node-1", 1, "x"))
	registry.Register(testRegistration("agent-b", "node-1", 1, "x"))

	release := make(chan struct{})
	started := make(chan string, 2)
	dispatch := func(ctx context.Context, req Request) error {
		started <- req.AgentID
		<-release
		return nil
	}
	membership := &staticMembership{state: upMembers("node-1")}
	router := NewRouter("node-1", registry, membership, nil, dispatch, nil, nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := router.RouteRequest(context.Background(), "x", nil)
			results <- err
		}()
	}

	// Wait until both agents are occupied
	occupied := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			occupied[id]++
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for dispatches to start")
		}
	}
	if occupied["agent-a"] != 1 || occupied["agent-b"] != 1 {
		t.Fatalf("Expected one request per agent, got %v", occupied)
	}

	// Third request finds everyone saturated
	_, err := router.RouteRequest(context.Background(), "x", nil)
	if !errors.Is(err, ErrAtCapacity) {
		t.Errorf("Expected ErrAtCapacity, got %v", err)
	}

	close(release)
	wg.Wait()
	close(results)
	for err := range results {
		if err != nil {
			t.Errorf("Concurrent request failed: %v", err)
		}
	}
}

// TestRouteRequestUnreachableNode verifies the error distinction when the
// only capable node stops being eligible.
func TestRouteRequestUnreachableNode(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Register(testRegistration("agent-1", "node-2", 1, "x"))

	membership := &staticMembership{state: upMembers("node-1", "node-2")}
	router := NewRouter("node-1", registry, membership, nil, nil, nil, nil)

	// Mark node-2 unreachable in the view
	state := upMembers("node-1", "node-2")
	state.Members[1].Reachable = false
	state.UnreachableCount = 1
	membership.set(state)

	_, err := router.RouteRequest(context.Background(), "x", nil)
	if !errors.Is(err, ErrNoAvailableAgent) {
		t.Errorf("Expected ErrNoAvailableAgent, got %v", err)
	}
	if errors.Is(err, ErrCapabilityNotFound) {
		t.Error("Unreachable host must not look like a missing capability")
	}
}

func TestRouteRequestExcludesNonUpNodes(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Register(testRegistration("agent-1", "node-2", 1, "x"))

	state := upMembers("node-1", "node-2")
	state.Members[1].Status = cluster.StatusLeaving
	membership := &staticMembership{state: state}
	router := NewRouter("node-1", registry, membership, nil, nil, nil, nil)

	if _, err := router.RouteRequest(context.Background(), "x", nil); !errors.Is(err, ErrNoAvailableAgent) {
		t.Errorf("Expected ErrNoAvailableAgent for Leaving host, got %v", err)
	}
}

func TestRouteRequestSuspended(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Register(testRegistration("agent-1", "node-1", 1, "x"))
	membership := &staticMembership{state: upMembers("node-1")}
	router := NewRouter("node-1", registry, membership, nil, nil, nil, nil)

	router.SuspendRouting(true)
	if _, err := router.RouteRequest(context.Background(), "x", nil); !errors.Is(err, ErrRoutingSuspended) {
		t.Errorf("Expected ErrRoutingSuspended, got %v", err)
	}

	router.SuspendRouting(false)
	if _, err := router.RouteRequest(context.Background(), "x", nil); err != nil {
		t.Errorf("Expected routing to resume, got %v", err)
	}
}

// TestRouteRequestRemoteForward routes across an in-memory fabric and
// verifies the serving node dispatches the forwarded request.
func TestRouteRequestRemoteForward(t *testing.T) {
	network := transport.NewInprocNetwork()
	t1 := network.Join("node-1")
	t2 := network.Join("node-2")
	defer t1.Close()
	defer t2.Close()

	membership := &staticMembership{state: upMembers("node-1", "node-2")}

	// node-2 hosts the agent and serves forwarded requests
	servingRegistry := NewRegistry(nil, nil)
	servingRegistry.Register(testRegistration("agent-1", "node-2", 1, "x"))
	deliveredCh := make(chan Request, 1)
	server := NewRouter("node-2", servingRegistry, membership, t2, func(ctx context.Context, req Request) error {
		deliveredCh <- req
		return nil
	}, nil, nil)
	t2.Handle(transport.MsgRouteForward, func(from string, data []byte) error {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		return server.DeliverForwarded(context.Background(), req)
	})

	// node-1 originates; its registry view includes node-2's agent
	originRegistry := NewRegistry(nil, nil)
	originRegistry.Register(testRegistration("agent-1", "node-2", 1, "x"))
	origin := NewRouter("node-1", originRegistry, membership, t1, nil, nil, nil)

	if err := t1.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := t2.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := origin.RouteRequest(context.Background(), "x", []byte("payload"))
	if err != nil {
		t.Fatalf("RouteRequest failed: %v", err)
	}
	if !result.Remote || result.NodeID != "node-2" {
		t.Errorf("Expected remote delivery to node-2, got %+v", result)
	}

	select {
	case req := <-deliveredCh:
		if req.AgentID != "agent-1" || string(req.Payload) != "payload" {
			t.Errorf("Unexpected forwarded request: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("Forwarded request never reached node-2")
	}
}
