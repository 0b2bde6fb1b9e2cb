package transport

import (
	"context"
	"sync"
	"time"
)

// InprocNetwork is an in-memory fabric for tests and single-process
// simulations. It delivers frames through the same codec as the wire
// transports and supports partition injection.
type InprocNetwork struct {
	nodes   map[string]*InprocTransport
	severed map[[2]string]bool
	mu      sync.RWMutex
}

// NewInprocNetwork creates an empty in-memory fabric.
func NewInprocNetwork() *InprocNetwork {
	return &InprocNetwork{
		nodes:   make(map[string]*InprocTransport),
		severed: make(map[[2]string]bool),
	}
}

// Join creates a transport attached to this fabric for the given node.
func (n *InprocNetwork) Join(nodeID string) *InprocTransport {
	t := &InprocTransport{
		localID: nodeID,
		network: n,
		demux:   NewDemux(nil),
	}

	n.mu.Lock()
	n.nodes[nodeID] = t
	peers := make([]*InprocTransport, 0, len(n.nodes))
	for id, other := range n.nodes {
		if id != nodeID {
			peers = append(peers, other)
		}
	}
	n.mu.Unlock()

	// Existing nodes observe the newcomer, and vice versa
	for _, other := range peers {
		other.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: nodeID, Observed: time.Now()})
		t.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: other.localID, Observed: time.Now()})
	}

	return t
}

// Partition severs connectivity between every pair spanning the two groups
// and emits unreachable events on both sides.
func (n *InprocNetwork) Partition(groupA, groupB []string) {
	n.mu.Lock()
	for _, a := range groupA {
		for _, b := range groupB {
			n.severed[pairKey(a, b)] = true
		}
	}
	nodes := make(map[string]*InprocTransport, len(n.nodes))
	for id, t := range n.nodes {
		nodes[id] = t
	}
	n.mu.Unlock()

	for _, a := range groupA {
		for _, b := range groupB {
			if ta, ok := nodes[a]; ok {
				ta.emit(ConnectivityEvent{Kind: NodeUnreachable, NodeID: b, Observed: time.Now()})
			}
			if tb, ok := nodes[b]; ok {
				tb.emit(ConnectivityEvent{Kind: NodeUnreachable, NodeID: a, Observed: time.Now()})
			}
		}
	}
}

// Heal restores all severed links and emits reachable events.
func (n *InprocNetwork) Heal() {
	n.mu.Lock()
	healed := make([][2]string, 0, len(n.severed))
	for key := range n.severed {
		healed = append(healed, key)
	}
	n.severed = make(map[[2]string]bool)
	nodes := make(map[string]*InprocTransport, len(n.nodes))
	for id, t := range n.nodes {
		nodes[id] = t
	}
	n.mu.Unlock()

	for _, key := range healed {
		if ta, ok := nodes[key[0]]; ok {
			ta.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: key[1], Observed: time.Now()})
		}
		if tb, ok := nodes[key[1]]; ok {
			tb.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: key[0], Observed: time.Now()})
		}
	}
}

// Terminate removes a node from the fabric; every other node observes a
// terminated event.
func (n *InprocNetwork) Terminate(nodeID string) {
	n.mu.Lock()
	delete(n.nodes, nodeID)
	others := make([]*InprocTransport, 0, len(n.nodes))
	for _, t := range n.nodes {
		others = append(others, t)
	}
	n.mu.Unlock()

	for _, t := range others {
		t.emit(ConnectivityEvent{Kind: NodeTerminated, NodeID: nodeID, Observed: time.Now()})
	}
}

func (n *InprocNetwork) reachable(a, b string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.severed[pairKey(a, b)]
}

func (n *InprocNetwork) lookup(nodeID string) *InprocTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[nodeID]
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// InprocTransport is one node's endpoint on an InprocNetwork.
type InprocTransport struct {
	localID string
	network *InprocNetwork
	demux   *Demux

	connHandlers []ConnectivityHandler
	handlersMu   sync.RWMutex

	closed   bool
	closedMu sync.Mutex
}

// LocalID returns the node ID this transport speaks for.
func (t *InprocTransport) LocalID() string {
	return t.localID
}

// Subscribe registers a handler for raw connectivity events.
func (t *InprocTransport) Subscribe(h ConnectivityHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.connHandlers = append(t.connHandlers, h)
}

// Handle registers the handler for one inbound message type.
func (t *InprocTransport) Handle(msgType MessageType, h HandlerFunc) {
	t.demux.Handle(msgType, h)
}

// Start is a no-op; Join already attached the transport.
func (t *InprocTransport) Start() error {
	return nil
}

// Send delivers a message to a single node through the codec round-trip, so
// tests exercise the same framing as the wire transport.
func (t *InprocTransport) Send(ctx context.Context, nodeID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return ErrTransportClosed
	}

	target := t.network.lookup(nodeID)
	if target == nil {
		return ErrUnknownPeer
	}
	if !t.network.reachable(t.localID, nodeID) {
		return ErrUnknownPeer
	}

	msg.From = t.localID
	msg.To = nodeID
	return target.deliver(msg)
}

// Broadcast delivers a message to every reachable node on the fabric.
func (t *InprocTransport) Broadcast(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return ErrTransportClosed
	}

	msg.From = t.localID
	msg.To = ""

	t.network.mu.RLock()
	targets := make([]*InprocTransport, 0, len(t.network.nodes))
	for id, other := range t.network.nodes {
		if id != t.localID && !t.network.severed[pairKey(t.localID, id)] {
			targets = append(targets, other)
		}
	}
	t.network.mu.RUnlock()

	for _, target := range targets {
		target.deliver(msg)
	}
	return nil
}

// Close detaches the transport; remaining nodes observe a termination.
func (t *InprocTransport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	t.closedMu.Unlock()

	t.network.Terminate(t.localID)
	return nil
}

func (t *InprocTransport) deliver(msg *Message) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	decoded, err := decodeFrame(frame)
	if err != nil {
		return err
	}
	return t.demux.Dispatch(decoded)
}

func (t *InprocTransport) isClosed() bool {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	return t.closed
}

func (t *InprocTransport) emit(ev ConnectivityEvent) {
	t.handlersMu.RLock()
	handlers := make([]ConnectivityHandler, len(t.connHandlers))
	copy(handlers, t.connHandlers)
	t.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Ensure InprocTransport implements Transport
var _ Transport = (*InprocTransport)(nil)
