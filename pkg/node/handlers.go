package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swarmcoord/swarmcoord/pkg/agents"
	"github.com/swarmcoord/swarmcoord/pkg/cluster"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// announcePayload carries a node's identity plus the agents it hosts, so a
// single exchange is enough to admit a member and route to its agents.
type announcePayload struct {
	Node   cluster.ClusterNode        `json:"node"`
	Agents []agents.AgentRegistration `json:"agents,omitempty"`
}

type leavePayload struct {
	NodeID string `json:"node_id"`
}

// observationPayload gossips one reachability observation.
type observationPayload struct {
	Observer  string `json:"observer"`
	Observed  string `json:"observed"`
	Reachable bool   `json:"reachable"`
}

func (n *Node) registerHandlers() {
	n.transport.Handle(transport.MsgAnnounce, n.handleAnnounce)
	n.transport.Handle(transport.MsgAnnounceAck, n.handleAnnounceAck)
	n.transport.Handle(transport.MsgLeave, n.handleLeave)
	n.transport.Handle(transport.MsgRouteForward, n.handleRouteForward)
	n.transport.Handle(transport.MsgAgentUpdate, n.handleAgentUpdate)
	n.transport.Handle(transport.MsgObservation, n.handleObservation)
	n.transport.Subscribe(n.handleConnectivity)
}

func (n *Node) announcePayload() announcePayload {
	payload := announcePayload{
		Node: cluster.ClusterNode{
			ID:      n.cfg.Node.ID,
			Address: n.cfg.Node.Address,
			Port:    n.cfg.Node.Port,
			Roles:   n.cfg.Node.Roles,
		},
	}
	for _, reg := range n.registry.Agents() {
		if reg.NodeID == n.cfg.Node.ID {
			payload.Agents = append(payload.Agents, reg)
		}
	}
	return payload
}

// handleAnnounce admits the sender and answers with our own announce so the
// joiner learns this node too.
func (n *Node) handleAnnounce(from string, data []byte) error {
	if err := n.mergeAnnounce(from, data); err != nil {
		return err
	}
	msg, err := transport.NewMessage(transport.MsgAnnounceAck, n.cfg.Node.ID, n.announcePayload())
	if err != nil {
		return err
	}
	return n.transport.Send(context.Background(), from, msg)
}

func (n *Node) handleAnnounceAck(from string, data []byte) error {
	return n.mergeAnnounce(from, data)
}

func (n *Node) mergeAnnounce(from string, data []byte) error {
	var payload announcePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed announce from %s: %w", from, err)
	}
	if payload.Node.ID == "" || payload.Node.ID == n.cfg.Node.ID {
		return nil
	}

	err := n.coordinator.AddMember(payload.Node)
	switch {
	case err == nil:
	case errors.Is(err, cluster.ErrMemberRemoved):
		// A removed identity may not rejoin; ignore the announce
		n.logger.Debug("announce from removed member ignored",
			logging.NodeID(payload.Node.ID))
		return nil
	default:
		return err
	}

	n.syncRemoteAgents(payload.Node.ID, payload.Agents)
	n.detector.RecordObservation(n.cfg.Node.ID, payload.Node.ID, true)
	return nil
}

// touchSender refreshes the sender's liveness timestamp; any inbound frame
// proves the peer is alive.
func (n *Node) touchSender(from string) {
	if from == "" || from == n.cfg.Node.ID {
		return
	}
	if err := n.coordinator.Touch(from); err != nil {
		n.logger.Debug("liveness touch skipped", logging.NodeID(from), logging.Error(err))
	}
}

// handleLeave walks a departing peer through Leaving and Exiting; the
// terminal Removed transition arrives with the transport's goodbye.
func (n *Node) handleLeave(from string, data []byte) error {
	var payload leavePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed leave from %s: %w", from, err)
	}
	if payload.NodeID == "" {
		return nil
	}
	if err := n.coordinator.BeginLeave(payload.NodeID); err != nil {
		return err
	}
	return n.coordinator.ConfirmExit(payload.NodeID)
}

func (n *Node) handleRouteForward(from string, data []byte) error {
	var req agents.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("malformed route forward from %s: %w", from, err)
	}
	n.touchSender(from)
	return n.router.DeliverForwarded(context.Background(), req)
}

// handleAgentUpdate replaces our view of the sender's agent set.
func (n *Node) handleAgentUpdate(from string, data []byte) error {
	var payload announcePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed agent update from %s: %w", from, err)
	}
	nodeID := payload.Node.ID
	if nodeID == "" {
		nodeID = from
	}
	if nodeID == n.cfg.Node.ID {
		return nil
	}
	n.touchSender(nodeID)
	n.syncRemoteAgents(nodeID, payload.Agents)
	return nil
}

// syncRemoteAgents makes the registry's entries for a remote node match the
// advertised set.
func (n *Node) syncRemoteAgents(nodeID string, regs []agents.AgentRegistration) {
	n.registry.PurgeNode(nodeID)
	for _, reg := range regs {
		reg.NodeID = nodeID
		if err := n.registry.Register(reg); err != nil {
			n.logger.Warn("failed to adopt remote agent",
				logging.AgentID(reg.AgentID),
				logging.NodeID(nodeID),
				logging.Error(err))
		}
	}
}

func (n *Node) handleObservation(from string, data []byte) error {
	var payload observationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed observation from %s: %w", from, err)
	}
	n.touchSender(from)
	n.detector.RecordObservation(payload.Observer, payload.Observed, payload.Reachable)
	n.detector.Detect()
	return nil
}

// handleConnectivity folds fabric events into membership, feeds the
// partition detector with the local view and gossips it to the peers.
func (n *Node) handleConnectivity(ev transport.ConnectivityEvent) {
	if err := n.coordinator.ApplyTransportEvent(ev); err != nil {
		n.logger.Warn("connectivity event rejected",
			logging.NodeID(ev.NodeID),
			logging.Error(err))
	}

	localID := n.cfg.Node.ID
	switch ev.Kind {
	case transport.NodeReachable:
		n.detector.RecordObservation(localID, ev.NodeID, true)
		n.gossipObservation(ev.NodeID, true)
	case transport.NodeUnreachable:
		n.detector.RecordObservation(localID, ev.NodeID, false)
		n.gossipObservation(ev.NodeID, false)
	case transport.NodeTerminated:
		n.registry.PurgeNode(ev.NodeID)
		n.detector.ForgetNode(ev.NodeID)
	}
	n.detector.Detect()
}

func (n *Node) gossipObservation(observed string, reachable bool) {
	msg, err := transport.NewMessage(transport.MsgObservation, n.cfg.Node.ID, observationPayload{
		Observer:  n.cfg.Node.ID,
		Observed:  observed,
		Reachable: reachable,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.transport.Broadcast(ctx, msg); err != nil {
		n.logger.Debug("observation gossip failed", logging.Error(err))
	}
}

func (n *Node) broadcastAgentUpdate(ctx context.Context) {
	payload := n.announcePayload()
	msg, err := transport.NewMessage(transport.MsgAgentUpdate, n.cfg.Node.ID, payload)
	if err != nil {
		return
	}
	if err := n.transport.Broadcast(ctx, msg); err != nil {
		n.logger.Debug("agent update broadcast failed", logging.Error(err))
	}
}
