package transport

import (
	"context"
	"encoding/json"
	"time"
)

// MessageType identifies the kind of coordination message in an envelope.
type MessageType uint8

const (
	// Control messages
	MsgAnnounce MessageType = iota
	MsgAnnounceAck
	MsgLeave
	MsgGoodbye

	// Health messages
	MsgProbe
	MsgProbeReply

	// Routing messages
	MsgRouteForward
	MsgAgentUpdate

	// Gossip messages
	MsgObservation
)

// MessageTypeName returns a human-readable name for a message type.
func MessageTypeName(msgType MessageType) string {
	switch msgType {
	case MsgAnnounce:
		return "announce"
	case MsgAnnounceAck:
		return "announce_ack"
	case MsgLeave:
		return "leave"
	case MsgGoodbye:
		return "goodbye"
	case MsgProbe:
		return "probe"
	case MsgProbeReply:
		return "probe_reply"
	case MsgRouteForward:
		return "route_forward"
	case MsgAgentUpdate:
		return "agent_update"
	case MsgObservation:
		return "observation"
	default:
		return "unknown"
	}
}

// Message is the wire envelope for all coordination traffic.
// To is empty for broadcasts; receivers drop envelopes addressed elsewhere.
type Message struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      []byte      `json:"data,omitempty"`
}

// NewMessage creates a new envelope with the given type, origin and payload.
func NewMessage(msgType MessageType, from string, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		From:      from,
		Timestamp: time.Now().UnixNano(),
		Data:      dataBytes,
	}, nil
}

// Decode decodes the payload into the provided value.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// ConnectivityKind classifies raw connectivity observations from the fabric.
type ConnectivityKind uint8

const (
	// NodeReachable means traffic from/to the node flows again
	NodeReachable ConnectivityKind = iota
	// NodeUnreachable means the node stopped responding at the transport level
	NodeUnreachable
	// NodeTerminated means the node announced a permanent exit
	NodeTerminated
)

// String returns the string representation of a connectivity kind
func (k ConnectivityKind) String() string {
	switch k {
	case NodeReachable:
		return "reachable"
	case NodeUnreachable:
		return "unreachable"
	case NodeTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ConnectivityEvent is one raw observation about a remote node.
type ConnectivityEvent struct {
	Kind     ConnectivityKind
	NodeID   string
	Observed time.Time
}

// ConnectivityHandler consumes raw connectivity events.
type ConnectivityHandler func(ConnectivityEvent)

// HandlerFunc handles one inbound message payload from a remote node.
type HandlerFunc func(from string, data []byte) error

// Transport is the point-to-point and broadcast fabric between nodes.
// Implementations must deliver inbound messages through registered handlers
// and surface connectivity changes through subscribed handlers.
type Transport interface {
	// LocalID returns the node ID this transport speaks for
	LocalID() string
	// Send delivers a message to a single node
	Send(ctx context.Context, nodeID string, msg *Message) error
	// Broadcast delivers a message to every connected node
	Broadcast(ctx context.Context, msg *Message) error
	// Subscribe registers a handler for raw connectivity events
	Subscribe(h ConnectivityHandler)
	// Handle registers the handler for one inbound message type
	Handle(msgType MessageType, h HandlerFunc)
	// Start begins listening and dialing
	Start() error
	// Close releases the transport; a goodbye is broadcast best-effort
	Close() error
}
