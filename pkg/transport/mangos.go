package transport

import (
	"context"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/bus"

	// Register all mangos transports (tcp, ipc, inproc, ws)
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
)

// Peer names a remote node and the address its bus socket listens on.
type Peer struct {
	NodeID string
	Addr   string
}

// BusConfig configures the mangos-backed transport.
type BusConfig struct {
	LocalID      string
	ListenAddr   string
	Peers        []Peer
	RecvDeadline time.Duration
	SendDeadline time.Duration
	Logger       logging.Logger
	Metrics      *metrics.Registry
}

// BusTransport connects the cluster over a mangos bus socket. Every frame is
// physically broadcast; addressed sends carry a To field and are filtered on
// receipt. Pipe attach/detach events feed the connectivity subscription;
// goodbye frames mark nodes terminated rather than merely unreachable.
type BusTransport struct {
	cfg   BusConfig
	sock  mangos.Socket
	demux *Demux

	connHandlers []ConnectivityHandler
	handlersMu   sync.RWMutex

	addrToNode map[string]string
	seen       map[string]bool
	mapMu      sync.Mutex

	stopCh    chan struct{}
	wg        sync.WaitGroup
	started   bool
	startedMu sync.Mutex
	closeOnce sync.Once

	logger logging.Logger
}

// NewBusTransport creates a bus transport. Call Start to begin traffic.
func NewBusTransport(cfg BusConfig) *BusTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.RecvDeadline <= 0 {
		cfg.RecvDeadline = 500 * time.Millisecond
	}
	if cfg.SendDeadline <= 0 {
		cfg.SendDeadline = 2 * time.Second
	}

	return &BusTransport{
		cfg:        cfg,
		demux:      NewDemux(logger),
		addrToNode: make(map[string]string),
		seen:       make(map[string]bool),
		stopCh:     make(chan struct{}),
		logger:     logger.With(logging.Component("transport")),
	}
}

// LocalID returns the node ID this transport speaks for.
func (bt *BusTransport) LocalID() string {
	return bt.cfg.LocalID
}

// Subscribe registers a handler for raw connectivity events.
func (bt *BusTransport) Subscribe(h ConnectivityHandler) {
	bt.handlersMu.Lock()
	defer bt.handlersMu.Unlock()
	bt.connHandlers = append(bt.connHandlers, h)
}

// Handle registers the handler for one inbound message type.
func (bt *BusTransport) Handle(msgType MessageType, h HandlerFunc) {
	bt.demux.Handle(msgType, h)
}

// Start listens on the configured address, dials all known peers, and begins
// receiving.
func (bt *BusTransport) Start() error {
	bt.startedMu.Lock()
	defer bt.startedMu.Unlock()

	if bt.started {
		return ErrAlreadyStarted
	}

	sock, err := bus.NewSocket()
	if err != nil {
		return err
	}
	sock.SetOption(mangos.OptionRecvDeadline, bt.cfg.RecvDeadline)
	sock.SetOption(mangos.OptionSendDeadline, bt.cfg.SendDeadline)
	sock.SetPipeEventHook(bt.onPipeEvent)

	if err := sock.Listen(bt.cfg.ListenAddr); err != nil {
		sock.Close()
		return err
	}

	bt.mapMu.Lock()
	for _, peer := range bt.cfg.Peers {
		bt.addrToNode[peer.Addr] = peer.NodeID
	}
	bt.mapMu.Unlock()

	for _, peer := range bt.cfg.Peers {
		if peer.NodeID == bt.cfg.LocalID {
			continue
		}
		if err := sock.Dial(peer.Addr); err != nil {
			// Peers come and go; the bus retries dials internally
			bt.logger.Warn("dial failed", logging.NodeID(peer.NodeID),
				logging.String("addr", peer.Addr), logging.Error(err))
		}
	}

	bt.sock = sock
	bt.started = true

	bt.wg.Add(1)
	go bt.recvLoop()

	bt.logger.Info("bus transport started",
		logging.String("listen", bt.cfg.ListenAddr),
		logging.Count(len(bt.cfg.Peers)))
	return nil
}

// Send delivers a message to a single node. On a bus the frame reaches every
// peer; the To field makes everyone else drop it.
func (bt *BusTransport) Send(ctx context.Context, nodeID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.To = nodeID
	msg.From = bt.cfg.LocalID
	return bt.put(msg)
}

// Broadcast delivers a message to every connected node.
func (bt *BusTransport) Broadcast(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.To = ""
	msg.From = bt.cfg.LocalID
	return bt.put(msg)
}

func (bt *BusTransport) put(msg *Message) error {
	bt.startedMu.Lock()
	sock := bt.sock
	started := bt.started
	bt.startedMu.Unlock()

	if !started || sock == nil {
		return ErrTransportClosed
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	if err := sock.Send(frame); err != nil {
		if bt.cfg.Metrics != nil {
			bt.cfg.Metrics.SendErrorsTotal.Inc()
		}
		return err
	}

	if bt.cfg.Metrics != nil {
		bt.cfg.Metrics.MessagesSentTotal.WithLabelValues(MessageTypeName(msg.Type)).Inc()
		bt.cfg.Metrics.PayloadBytesTotal.WithLabelValues("sent").Add(float64(len(frame)))
	}
	return nil
}

// Close broadcasts a goodbye best-effort and releases the socket.
func (bt *BusTransport) Close() error {
	var closeErr error
	bt.closeOnce.Do(func() {
		if goodbye, err := NewMessage(MsgGoodbye, bt.cfg.LocalID, struct{}{}); err == nil {
			bt.Broadcast(context.Background(), goodbye)
		}

		close(bt.stopCh)

		bt.startedMu.Lock()
		if bt.sock != nil {
			closeErr = bt.sock.Close()
		}
		bt.started = false
		bt.startedMu.Unlock()

		bt.wg.Wait()
	})
	return closeErr
}

func (bt *BusTransport) recvLoop() {
	defer bt.wg.Done()

	for {
		select {
		case <-bt.stopCh:
			return
		default:
		}

		frame, err := bt.sock.Recv()
		if err != nil {
			// Deadline expiry lets the loop observe stopCh
			continue
		}

		msg, err := decodeFrame(frame)
		if err != nil {
			bt.logger.Warn("dropping corrupt frame", logging.Error(err))
			continue
		}

		if msg.From == bt.cfg.LocalID {
			continue
		}
		if msg.To != "" && msg.To != bt.cfg.LocalID {
			continue
		}

		if bt.cfg.Metrics != nil {
			bt.cfg.Metrics.MessagesReceivedTotal.WithLabelValues(MessageTypeName(msg.Type)).Inc()
			bt.cfg.Metrics.PayloadBytesTotal.WithLabelValues("received").Add(float64(len(frame)))
		}

		bt.observeSender(msg)

		if msg.Type == MsgGoodbye {
			bt.markTerminated(msg.From)
			continue
		}

		if err := bt.demux.Dispatch(msg); err != nil {
			bt.logger.Debug("dispatch failed",
				logging.String("type", MessageTypeName(msg.Type)),
				logging.Error(err))
		}
	}
}

// observeSender emits a reachable event the first time traffic arrives from a
// node, and again after it was marked gone.
func (bt *BusTransport) observeSender(msg *Message) {
	bt.mapMu.Lock()
	alreadySeen := bt.seen[msg.From]
	bt.seen[msg.From] = true
	bt.mapMu.Unlock()

	if !alreadySeen {
		bt.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: msg.From, Observed: time.Now()})
	}
}

func (bt *BusTransport) markTerminated(nodeID string) {
	bt.mapMu.Lock()
	delete(bt.seen, nodeID)
	bt.mapMu.Unlock()

	bt.emit(ConnectivityEvent{Kind: NodeTerminated, NodeID: nodeID, Observed: time.Now()})
}

// onPipeEvent translates socket pipe lifecycle into connectivity events for
// peers whose listen address we know (i.e. pipes we dialed).
func (bt *BusTransport) onPipeEvent(ev mangos.PipeEvent, p mangos.Pipe) {
	bt.mapMu.Lock()
	nodeID, known := bt.addrToNode[p.Address()]
	if known {
		switch ev {
		case mangos.PipeEventAttached:
			bt.seen[nodeID] = true
		case mangos.PipeEventDetached:
			delete(bt.seen, nodeID)
		}
	}
	bt.mapMu.Unlock()

	if !known || nodeID == bt.cfg.LocalID {
		return
	}

	switch ev {
	case mangos.PipeEventAttached:
		bt.emit(ConnectivityEvent{Kind: NodeReachable, NodeID: nodeID, Observed: time.Now()})
	case mangos.PipeEventDetached:
		bt.emit(ConnectivityEvent{Kind: NodeUnreachable, NodeID: nodeID, Observed: time.Now()})
	}
}

func (bt *BusTransport) emit(ev ConnectivityEvent) {
	bt.handlersMu.RLock()
	handlers := make([]ConnectivityHandler, len(bt.connHandlers))
	copy(handlers, bt.connHandlers)
	bt.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Ensure BusTransport implements Transport
var _ Transport = (*BusTransport)(nil)
