package partition

import (
	"sync"
	"testing"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
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

func membershipOf(joined map[string]time.Time) *staticMembership {
	members := make([]cluster.ClusterNode, 0, len(joined))
	for id, at := range joined {
		members = append(members, cluster.ClusterNode{
			ID:        id,
			Address:   "10.0.0.1",
			Port:      7000,
			Status:    cluster.StatusUp,
			Reachable: true,
			JoinedAt:  at,
		})
	}
	return &staticMembership{state: cluster.ClusterState{Members: members}}
}

func fiveNodes() *staticMembership {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return membershipOf(map[string]time.Time{
		"node-1": base,
		"node-2": base.Add(time.Minute),
		"node-3": base.Add(2 * time.Minute),
		"node-4": base.Add(3 * time.Minute),
		"node-5": base.Add(4 * time.Minute),
	})
}

// sever records adverse observations in both directions between every node
// of groupA and every node of groupB.
func sever(d *Detector, groupA, groupB []string) {
	for _, a := range groupA {
		for _, b := range groupB {
			d.RecordObservation(a, b, false)
			d.RecordObservation(b, a, false)
		}
	}
}

func findPartition(partitions []NetworkPartition, nodeID string) (NetworkPartition, bool) {
	for _, p := range partitions {
		for _, id := range p.NodeIDs {
			if id == nodeID {
				return p, true
			}
		}
	}
	return NetworkPartition{}, false
}

func TestNoPartitionWhenWhole(t *testing.T) {
	d := NewDetector(KeepMajority, fiveNodes(), nil, nil, nil, nil)
	if got := d.Detect(); got != nil {
		t.Errorf("Expected no partitions on a whole cluster, got %v", got)
	}
}

// TestMajoritySplitThreeTwo verifies the 3/2 split: the 3-node component is
// the majority partition, the 2-node component is not.
func TestMajoritySplitThreeTwo(t *testing.T) {
	d := NewDetector(KeepMajority, fiveNodes(), nil, nil, nil, nil)
	sever(d, []string{"node-1", "node-2", "node-3"}, []string{"node-4", "node-5"})

	partitions := d.Detect()
	if len(partitions) != 2 {
		t.Fatalf("Expected 2 partitions, got %d", len(partitions))
	}

	major, ok := findPartition(partitions, "node-1")
	if !ok {
		t.Fatal("node-1's partition missing")
	}
	if !major.IsMajorityPartition || len(major.NodeIDs) != 3 {
		t.Errorf("Expected the 3-node component flagged majority, got %+v", major)
	}

	minor, _ := findPartition(partitions, "node-4")
	if minor.IsMajorityPartition || len(minor.NodeIDs) != 2 {
		t.Errorf("Expected the 2-node component flagged minority, got %+v", minor)
	}
	if minor.Severity != SeverityWarning {
		t.Errorf("Expected warning severity on the minority side, got %s", minor.Severity)
	}
}

// TestKeepMajorityTieDefersToOldest splits 4 nodes 2/2; the side holding the
// oldest member wins.
func TestKeepMajorityTieDefersToOldest(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	membership := membershipOf(map[string]time.Time{
		"node-1": base.Add(time.Hour), // young
		"node-2": base.Add(time.Hour),
		"node-3": base, // oldest
		"node-4": base.Add(time.Hour),
	})
	d := NewDetector(KeepMajority, membership, nil, nil, nil, nil)
	sever(d, []string{"node-1", "node-2"}, []string{"node-3", "node-4"})

	partitions := d.Detect()
	if len(partitions) != 2 {
		t.Fatalf("Expected 2 partitions, got %d", len(partitions))
	}
	oldSide, _ := findPartition(partitions, "node-3")
	if !oldSide.IsMajorityPartition {
		t.Error("Tie must be won by the side holding the oldest member")
	}
	youngSide, _ := findPartition(partitions, "node-1")
	if youngSide.IsMajorityPartition {
		t.Error("Only one side may win a tie")
	}
}

func TestKeepAllEmitsInfoOnly(t *testing.T) {
	d := NewDetector(KeepAll, fiveNodes(), nil, nil, nil, nil)
	sever(d, []string{"node-1", "node-2"}, []string{"node-3", "node-4", "node-5"})

	for _, p := range d.Detect() {
		if p.Severity != SeverityInfo {
			t.Errorf("KeepAll must emit info severity, got %s", p.Severity)
		}
	}
}

func TestStopAllSuspendsRouting(t *testing.T) {
	var suspendedCalls []bool
	hook := func(on bool) { suspendedCalls = append(suspendedCalls, on) }

	d := NewDetector(StopAll, fiveNodes(), hook, nil, nil, nil)
	sever(d, []string{"node-1", "node-2"}, []string{"node-3", "node-4", "node-5"})

	partitions := d.Detect()
	for _, p := range partitions {
		if p.Severity != SeverityCritical {
			t.Errorf("StopAll must emit critical severity, got %s", p.Severity)
		}
	}
	if !d.Suspended() {
		t.Fatal("Expected routing suspended under StopAll")
	}

	// Heal the split: the next cycle lifts the suspension
	for _, a := range []string{"node-1", "node-2"} {
		for _, b := range []string{"node-3", "node-4", "node-5"} {
			d.RecordObservation(a, b, true)
			d.RecordObservation(b, a, true)
		}
	}
	if got := d.Detect(); got != nil {
		t.Errorf("Expected healed cluster, got %v", got)
	}
	if d.Suspended() {
		t.Error("Expected suspension lifted after heal")
	}
	if len(suspendedCalls) != 2 || !suspendedCalls[0] || suspendedCalls[1] {
		t.Errorf("Expected hook calls [true false], got %v", suspendedCalls)
	}
}

// TestNoIdentityAcrossDetections verifies IDs are fresh per cycle.
func TestNoIdentityAcrossDetections(t *testing.T) {
	d := NewDetector(KeepMajority, fiveNodes(), nil, nil, nil, nil)
	sever(d, []string{"node-1", "node-2", "node-3"}, []string{"node-4", "node-5"})

	first := d.Detect()
	second := d.Detect()
	seen := map[string]bool{}
	for _, p := range first {
		seen[p.ID] = true
	}
	for _, p := range second {
		if seen[p.ID] {
			t.Errorf("Partition ID %s reused across detection cycles", p.ID)
		}
	}
}

func TestForgetNodeClearsObservations(t *testing.T) {
	d := NewDetector(KeepMajority, fiveNodes(), nil, nil, nil, nil)
	sever(d, []string{"node-1", "node-2", "node-3"}, []string{"node-4", "node-5"})

	if got := d.Detect(); len(got) != 2 {
		t.Fatalf("Expected a 2-way split, got %v", got)
	}

	// Dropping every observation involving node-4 reconnects the sides
	// through it: 4 now pairs cleanly with members of both components
	d.ForgetNode("node-4")
	if got := d.Detect(); got != nil {
		t.Errorf("Expected no partitions after forgetting node-4, got %v", got)
	}
}

func TestOneWayObservationSplits(t *testing.T) {
	d := NewDetector(KeepMajority, fiveNodes(), nil, nil, nil, nil)
	// Only node-1 reports node-5 unreachable; the pair is still severed
	d.RecordObservation("node-1", "node-5", false)
	// node-5 remains connected to 2,3,4 and 1 is connected to 2,3,4, so
	// the graph is still connected through them
	if got := d.Detect(); got != nil {
		t.Errorf("Transitive connectivity should keep the cluster whole, got %v", got)
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"keep-majority": KeepMajority,
		"keep-oldest":   KeepOldest,
		"keep-all":      KeepAll,
		"stop-all":      StopAll,
	} {
		got, err := ParseStrategy(name)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseStrategy("nuke-minority"); err == nil {
		t.Error("Expected an error for an unknown strategy")
	}
}
