package partition

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/events"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
)

// Membership supplies the detector with the last-known cluster view.
type Membership interface {
	Snapshot() cluster.ClusterState
}

// Detector groups the last-known membership into reachability-connected
// components from pairwise observations. Two nodes share a component when
// no adverse observation exists between them in either direction. The
// detector keeps no history: each detection cycle stands alone.
type Detector struct {
	strategy Strategy
	members  Membership

	mu        sync.Mutex
	adverse   map[string]map[string]bool
	suspended bool

	suspendHook func(bool)
	bus         *events.Bus
	logger      logging.Logger
	metrics     *metrics.Registry
}

// NewDetector creates a detector. suspendHook, when set, is invoked with
// true while a stop-all partition is in effect and false once it heals.
func NewDetector(strategy Strategy, members Membership, suspendHook func(bool), bus *events.Bus, reg *metrics.Registry, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Detector{
		strategy:    strategy,
		members:     members,
		adverse:     make(map[string]map[string]bool),
		suspendHook: suspendHook,
		bus:         bus,
		logger:      logger.With(logging.Component("partition")),
		metrics:     reg,
	}
}

// RecordObservation folds one reachability observation into the matrix.
// reachable=true clears any previous adverse observation for the pair.
func (d *Detector) RecordObservation(observer, observed string, reachable bool) {
	if observer == "" || observed == "" || observer == observed {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if reachable {
		if row, ok := d.adverse[observer]; ok {
			delete(row, observed)
			if len(row) == 0 {
				delete(d.adverse, observer)
			}
		}
		return
	}
	row, ok := d.adverse[observer]
	if !ok {
		row = make(map[string]bool)
		d.adverse[observer] = row
	}
	row[observed] = true
}

// ForgetNode drops every observation made by or about a node. Called when
// a member is removed so stale observations do not split future cycles.
func (d *Detector) ForgetNode(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.adverse, nodeID)
	for observer, row := range d.adverse {
		delete(row, nodeID)
		if len(row) == 0 {
			delete(d.adverse, observer)
		}
	}
}

// Detect computes the current components and returns one NetworkPartition
// per component when the membership is split, or nil when it is whole.
// Every call re-evaluates from scratch and publishes its findings.
func (d *Detector) Detect() []NetworkPartition {
	state := d.members.Snapshot()
	now := time.Now()

	live := make([]cluster.ClusterNode, 0, len(state.Members))
	for _, m := range state.Members {
		if !m.Status.Terminal() {
			live = append(live, m)
		}
	}
	total := len(live)
	if total == 0 {
		d.setSuspended(false)
		d.setPartitionGauge(0)
		return nil
	}

	components := d.components(live)
	if len(components) <= 1 {
		d.setSuspended(false)
		d.setPartitionGauge(0)
		return nil
	}

	winner := d.pickWinner(components, live, total)
	partitions := make([]NetworkPartition, 0, len(components))
	for i, ids := range components {
		slices.Sort(ids)
		p := NetworkPartition{
			ID:                  uuid.NewString(),
			NodeIDs:             ids,
			IsMajorityPartition: i == winner,
			DetectedAt:          now,
		}
		switch d.strategy {
		case KeepAll:
			p.Severity = SeverityInfo
		case StopAll:
			p.Severity = SeverityCritical
		default:
			if p.IsMajorityPartition {
				p.Severity = SeverityInfo
			} else {
				p.Severity = SeverityWarning
			}
		}
		partitions = append(partitions, p)
	}

	d.setSuspended(d.strategy == StopAll)
	d.setPartitionGauge(len(partitions))
	if d.metrics != nil {
		d.metrics.PartitionsDetectedTotal.Add(float64(len(partitions)))
	}
	for _, p := range partitions {
		d.logger.Warn("network partition detected",
			logging.String("partition_id", p.ID),
			logging.Count(len(p.NodeIDs)),
			logging.Bool("majority", p.IsMajorityPartition),
			logging.String("severity", p.Severity.String()))
		if d.bus != nil {
			d.bus.Publish(events.TopicPartition, NetworkPartitionDetected{
				Partition: p,
				Strategy:  d.strategy,
				At:        p.DetectedAt,
			})
		}
	}
	return partitions
}

// components runs union-find over the live members, joining every pair with
// no adverse observation in either direction.
func (d *Detector) components(live []cluster.ClusterNode) [][]string {
	parent := make(map[string]string, len(live))
	for _, m := range live {
		parent[m.ID] = m.ID
	}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	d.mu.Lock()
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i].ID, live[j].ID
			if !d.adverse[a][b] && !d.adverse[b][a] {
				union(a, b)
			}
		}
	}
	d.mu.Unlock()

	grouped := make(map[string][]string)
	for _, m := range live {
		root := find(m.ID)
		grouped[root] = append(grouped[root], m.ID)
	}
	components := make([][]string, 0, len(grouped))
	for _, ids := range grouped {
		components = append(components, ids)
	}
	// Deterministic ordering: largest first, then by first member ID
	slices.SortFunc(components, func(a, b []string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		if a[0] < b[0] {
			return -1
		}
		if a[0] > b[0] {
			return 1
		}
		return 0
	})
	return components
}

// pickWinner returns the index of the component flagged as the majority
// partition, or -1 when no component wins. A strict majority always wins;
// ties and minority-only splits defer to the configured strategy.
func (d *Detector) pickWinner(components [][]string, live []cluster.ClusterNode, total int) int {
	for i, ids := range components {
		if len(ids)*2 > total {
			return i
		}
	}

	switch d.strategy {
	case KeepAll, StopAll:
		return -1
	default:
		// KeepMajority without a strict majority defers to KeepOldest
		return d.oldestComponent(components, live)
	}
}

// oldestComponent finds the component holding the member with the earliest
// JoinedAt.
func (d *Detector) oldestComponent(components [][]string, live []cluster.ClusterNode) int {
	joined := make(map[string]time.Time, len(live))
	for _, m := range live {
		joined[m.ID] = m.JoinedAt
	}

	winner := -1
	var oldest time.Time
	for i, ids := range components {
		for _, id := range ids {
			at, ok := joined[id]
			if !ok || at.IsZero() {
				continue
			}
			if winner == -1 || at.Before(oldest) {
				winner = i
				oldest = at
			}
		}
	}
	return winner
}

func (d *Detector) setSuspended(on bool) {
	d.mu.Lock()
	changed := d.suspended != on
	d.suspended = on
	d.mu.Unlock()
	if changed && d.suspendHook != nil {
		d.suspendHook(on)
	}
}

func (d *Detector) setPartitionGauge(n int) {
	if d.metrics != nil {
		d.metrics.CurrentPartitions.Set(float64(n))
	}
}

// Suspended reports whether a stop-all partition is currently in effect.
func (d *Detector) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}
