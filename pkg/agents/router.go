package agents

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// Membership supplies the router with the current cluster view. The
// membership coordinator satisfies this directly.
type Membership interface {
	Snapshot() cluster.ClusterState
}

// LocalDispatcher handles a request routed to an agent on this node.
type LocalDispatcher func(ctx context.Context, req Request) error

// Router selects agents for capability-addressed requests and delivers them
// locally or across the transport. Selection excludes agents on nodes that
// are not Up and reachable in the latest membership snapshot.
type Router struct {
	localID   string
	registry  *Registry
	members   Membership
	transport transport.Transport
	dispatch  LocalDispatcher
	suspended atomic.Bool

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewRouter wires a router over a registry and a membership view. transport
// and dispatch may be nil on nodes that only originate or only serve requests.
func NewRouter(localID string, registry *Registry, members Membership, tr transport.Transport, dispatch LocalDispatcher, reg *metrics.Registry, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Router{
		localID:   localID,
		registry:  registry,
		members:   members,
		transport: tr,
		dispatch:  dispatch,
		logger:    logger.With(logging.Component("router"), logging.NodeID(localID)),
		metrics:   reg,
	}
}

// SuspendRouting pauses or resumes all routing. Used by the partition
// detector under a stop-all policy.
func (r *Router) SuspendRouting(on bool) {
	was := r.suspended.Swap(on)
	if was == on {
		return
	}
	if r.metrics != nil {
		if on {
			r.metrics.RoutingSuspended.Set(1)
		} else {
			r.metrics.RoutingSuspended.Set(0)
		}
	}
	if on {
		r.logger.Warn("routing suspended")
	} else {
		r.logger.Info("routing resumed")
	}
}

// RoutingSuspended reports whether routing is currently paused.
func (r *Router) RoutingSuspended() bool {
	return r.suspended.Load()
}

// RouteRequest selects an eligible agent for the capability and delivers
// the payload to it. Local delivery invokes the dispatcher and releases the
// agent's budget when it returns; remote delivery forwards the payload and
// releases the budget once the send is handed to the transport. Callers
// distinguish failure modes with errors.Is against the package sentinels.
func (r *Router) RouteRequest(ctx context.Context, capability string, payload []byte) (RouteResult, error) {
	if r.suspended.Load() {
		r.countFailure("suspended")
		return RouteResult{}, ErrRoutingSuspended
	}

	state := r.members.Snapshot()
	eligible := func(nodeID string) bool {
		member, ok := state.Member(nodeID)
		return ok && member.Status == cluster.StatusUp && member.Reachable
	}

	reg, err := r.registry.Acquire(capability, eligible)
	if err != nil {
		r.countFailure(failureReason(err))
		return RouteResult{}, err
	}

	req := Request{
		ID:         uuid.NewString(),
		Capability: capability,
		AgentID:    reg.AgentID,
		Payload:    payload,
	}
	result := RouteResult{
		RequestID: req.ID,
		AgentID:   reg.AgentID,
		NodeID:    reg.NodeID,
		Remote:    reg.NodeID != r.localID,
	}

	if !result.Remote {
		defer r.registry.EndRequest(reg.AgentID)
		if r.dispatch != nil {
			if err := r.dispatch(ctx, req); err != nil {
				return RouteResult{}, fmt.Errorf("local dispatch to %s: %w", reg.AgentID, err)
			}
		}
		r.countRouted("local")
		return result, nil
	}

	defer r.registry.EndRequest(reg.AgentID)
	if r.transport == nil {
		r.countFailure("transport")
		return RouteResult{}, fmt.Errorf("agent %s lives on %s and no transport is configured: %w",
			reg.AgentID, reg.NodeID, ErrNoAvailableAgent)
	}
	msg, err := transport.NewMessage(transport.MsgRouteForward, r.localID, req)
	if err != nil {
		r.countFailure("transport")
		return RouteResult{}, err
	}
	if err := r.transport.Send(ctx, reg.NodeID, msg); err != nil {
		r.countFailure("transport")
		return RouteResult{}, fmt.Errorf("forward to %s: %w", reg.NodeID, err)
	}

	r.logger.Debug("request forwarded",
		logging.String("request_id", req.ID),
		logging.Capability(capability),
		logging.AgentID(reg.AgentID),
		logging.NodeID(reg.NodeID))
	r.countRouted("remote")
	return result, nil
}

// DeliverForwarded handles a route-forward frame arriving from a peer. The
// request already carries its target agent; the budget is reserved here on
// the serving node and released when the dispatcher returns.
func (r *Router) DeliverForwarded(ctx context.Context, req Request) error {
	if err := r.registry.BeginRequest(req.AgentID); err != nil {
		r.countFailure(failureReason(err))
		return err
	}
	defer r.registry.EndRequest(req.AgentID)

	if r.dispatch == nil {
		return fmt.Errorf("%w: no local dispatcher for forwarded request %s",
			ErrUnknownAgent, req.ID)
	}
	if err := r.dispatch(ctx, req); err != nil {
		return fmt.Errorf("forwarded dispatch to %s: %w", req.AgentID, err)
	}
	r.countRouted("local")
	return nil
}

func (r *Router) countRouted(delivery string) {
	if r.metrics != nil {
		r.metrics.RoutedRequestsTotal.WithLabelValues(delivery).Inc()
	}
}

func (r *Router) countFailure(reason string) {
	if r.metrics != nil {
		r.metrics.RoutingFailuresTotal.WithLabelValues(reason).Inc()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCapabilityNotFound):
		return "capability_not_found"
	case errors.Is(err, ErrAtCapacity), errors.Is(err, ErrUnknownAgent):
		return "at_capacity"
	case errors.Is(err, ErrRoutingSuspended):
		return "suspended"
	case errors.Is(err, ErrNoAvailableAgent):
		return "no_available_agent"
	default:
		return "transport"
	}
}
