package agents

import "errors"

var (
	// ErrAlreadyRegistered is returned when an agent ID is already claimed
	// by a different node.
	ErrAlreadyRegistered = errors.New("agent ID is already registered by another node")

	// ErrConflictingRegistration is returned when a re-registration does not
	// match the existing entry for the same agent.
	ErrConflictingRegistration = errors.New("re-registration conflicts with existing agent entry")

	// ErrUnknownAgent is returned for load operations on an unregistered agent.
	ErrUnknownAgent = errors.New("agent is not registered")

	// ErrCapabilityNotFound is returned when no registered agent advertises
	// the requested capability.
	ErrCapabilityNotFound = errors.New("no agent advertises the requested capability")

	// ErrAtCapacity is returned when every eligible agent for a capability
	// is running at its concurrency limit.
	ErrAtCapacity = errors.New("all capable agents are at capacity")

	// ErrNoAvailableAgent is returned when the capability exists but no
	// hosting node is currently eligible for routing.
	ErrNoAvailableAgent = errors.New("no available agent on a reachable node")

	// ErrRoutingSuspended is returned while routing is paused cluster-wide,
	// typically under a stop-all partition policy.
	ErrRoutingSuspended = errors.New("routing is suspended")

	// ErrInvalidRegistration is returned when a registration fails validation.
	ErrInvalidRegistration = errors.New("invalid agent registration")
)
