package agents

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
)

// agentEntry is one slot in the registry arena. Entries are tombstoned on
// unregister so capability slices can be compacted lazily.
type agentEntry struct {
	reg   AgentRegistration
	load  int
	alive bool
}

// Registry maintains the node-local view of every registered agent, indexed
// by ID and by capability tag. All lookups and load accounting go through a
// single lock; routing selection and load increment are one atomic step.
type Registry struct {
	mu           sync.RWMutex
	agents       []agentEntry
	index        map[string]int
	byCapability map[string][]string
	cursors      map[string]int

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewRegistry creates an empty agent registry.
func NewRegistry(reg *metrics.Registry, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		index:        make(map[string]int),
		byCapability: make(map[string][]string),
		cursors:      make(map[string]int),
		logger:       logger.With(logging.Component("agents")),
		metrics:      reg,
	}
}

// Register adds an agent to all indexes. Re-registering an identical entry
// is a no-op; a changed capability set or concurrency limit on the same node
// is a conflict, and an ID owned by another node is rejected outright.
func (r *Registry) Register(reg AgentRegistration) error {
	if reg.AgentID == "" {
		return fmt.Errorf("%w: missing agent ID", ErrInvalidRegistration)
	}
	if reg.NodeID == "" {
		return fmt.Errorf("%w: missing node ID", ErrInvalidRegistration)
	}
	if len(reg.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidRegistration)
	}
	if reg.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max concurrent must be positive", ErrInvalidRegistration)
	}
	for _, c := range reg.Capabilities {
		if c.ID == "" {
			return fmt.Errorf("%w: capability with empty ID", ErrInvalidRegistration)
		}
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.index[reg.AgentID]; ok && r.agents[slot].alive {
		existing := r.agents[slot].reg
		if existing.NodeID != reg.NodeID {
			return fmt.Errorf("%w: %s is held by node %s",
				ErrAlreadyRegistered, reg.AgentID, existing.NodeID)
		}
		if sameCapabilitySet(existing, reg) && existing.MaxConcurrent == reg.MaxConcurrent {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrConflictingRegistration, reg.AgentID)
	}

	reg.Capabilities = append([]AgentCapability(nil), reg.Capabilities...)
	slot := len(r.agents)
	r.agents = append(r.agents, agentEntry{reg: reg, alive: true})
	r.index[reg.AgentID] = slot
	for _, id := range reg.capabilityIDs() {
		r.byCapability[id] = append(r.byCapability[id], reg.AgentID)
	}

	r.logger.Info("agent registered",
		logging.AgentID(reg.AgentID),
		logging.NodeID(reg.NodeID),
		logging.Int("capabilities", len(reg.Capabilities)))
	r.updateGauges()
	return nil
}

// Unregister removes an agent from all indexes. Absent agents are a no-op.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(agentID)
	r.updateGauges()
}

// PurgeNode removes every agent hosted on the given node and returns the
// IDs of the agents removed. Called when a member leaves the cluster.
func (r *Registry) PurgeNode(nodeID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged []string
	for id, slot := range r.index {
		if r.agents[slot].alive && r.agents[slot].reg.NodeID == nodeID {
			purged = append(purged, id)
		}
	}
	for _, id := range purged {
		r.removeLocked(id)
	}
	if len(purged) > 0 {
		r.logger.Info("purged agents for departed node",
			logging.NodeID(nodeID),
			logging.Count(len(purged)))
	}
	r.updateGauges()
	return purged
}

func (r *Registry) removeLocked(agentID string) {
	slot, ok := r.index[agentID]
	if !ok || !r.agents[slot].alive {
		return
	}
	entry := &r.agents[slot]
	entry.alive = false
	entry.load = 0
	delete(r.index, agentID)

	for _, capID := range entry.reg.capabilityIDs() {
		ids := r.byCapability[capID]
		ids = slices.DeleteFunc(ids, func(id string) bool { return id == agentID })
		if len(ids) == 0 {
			delete(r.byCapability, capID)
			delete(r.cursors, capID)
		} else {
			r.byCapability[capID] = ids
		}
	}
}

// Get returns the registration for an agent ID.
func (r *Registry) Get(agentID string) (AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.index[agentID]
	if !ok || !r.agents[slot].alive {
		return AgentRegistration{}, false
	}
	return copyRegistration(r.agents[slot].reg), true
}

// Load returns the current in-flight count for an agent.
func (r *Registry) Load(agentID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.index[agentID]
	if !ok || !r.agents[slot].alive {
		return 0, false
	}
	return r.agents[slot].load, true
}

// Agents returns all live registrations ordered by agent ID.
func (r *Registry) Agents() []AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentRegistration, 0, len(r.index))
	for _, slot := range r.index {
		if r.agents[slot].alive {
			out = append(out, copyRegistration(r.agents[slot].reg))
		}
	}
	slices.SortFunc(out, func(a, b AgentRegistration) int {
		if a.AgentID < b.AgentID {
			return -1
		}
		if a.AgentID > b.AgentID {
			return 1
		}
		return 0
	})
	return out
}

// Capabilities returns the set of capability tags with at least one live agent.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCapability))
	for id := range r.byCapability {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// BeginRequest reserves one unit of an agent's concurrency budget.
func (r *Registry) BeginRequest(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.index[agentID]
	if !ok || !r.agents[slot].alive {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	entry := &r.agents[slot]
	if entry.load >= entry.reg.MaxConcurrent {
		return fmt.Errorf("%w: %s", ErrAtCapacity, agentID)
	}
	entry.load++
	return nil
}

// EndRequest releases one unit of an agent's concurrency budget. Releases
// for unknown or idle agents are ignored; the agent may have been purged
// while the request was in flight.
func (r *Registry) EndRequest(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.index[agentID]
	if !ok || !r.agents[slot].alive {
		return
	}
	if entry := &r.agents[slot]; entry.load > 0 {
		entry.load--
	}
}

// Acquire selects an agent for the capability and reserves one unit of its
// budget in the same critical section. Candidates are walked round-robin
// from a per-capability cursor; eligible reports whether an agent's hosting
// node may currently receive traffic.
func (r *Registry) Acquire(capability string, eligible func(nodeID string) bool) (AgentRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byCapability[capability]
	if len(ids) == 0 {
		return AgentRegistration{}, fmt.Errorf("%w: %s", ErrCapabilityNotFound, capability)
	}

	cursor := r.cursors[capability]
	anyEligible := false
	for i := 0; i < len(ids); i++ {
		id := ids[(cursor+i)%len(ids)]
		slot, ok := r.index[id]
		if !ok || !r.agents[slot].alive {
			continue
		}
		entry := &r.agents[slot]
		if eligible != nil && !eligible(entry.reg.NodeID) {
			continue
		}
		anyEligible = true
		if entry.load >= entry.reg.MaxConcurrent {
			continue
		}
		entry.load++
		r.cursors[capability] = (cursor + i + 1) % len(ids)
		return copyRegistration(entry.reg), nil
	}

	if anyEligible {
		return AgentRegistration{}, fmt.Errorf("%w: %s", ErrAtCapacity, capability)
	}
	return AgentRegistration{}, fmt.Errorf("%w: %s", ErrNoAvailableAgent, capability)
}

func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}
	r.metrics.AgentsRegistered.Set(float64(len(r.index)))
	r.metrics.CapabilitiesTotal.Set(float64(len(r.byCapability)))
}

func copyRegistration(reg AgentRegistration) AgentRegistration {
	reg.Capabilities = append([]AgentCapability(nil), reg.Capabilities...)
	return reg
}

func sameCapabilitySet(a, b AgentRegistration) bool {
	if len(a.Capabilities) != len(b.Capabilities) {
		return false
	}
	seen := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		seen[c.ID] = true
	}
	for _, c := range b.Capabilities {
		if !seen[c.ID] {
			return false
		}
	}
	return true
}
