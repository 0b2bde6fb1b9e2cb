package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/swarmcoord/swarmcoord/pkg/logging"
)

// Demux dispatches inbound messages to registered handlers. It provides a
// clean way to handle different message types without large switch
// statements.
type Demux struct {
	handlers map[MessageType]HandlerFunc
	mu       sync.RWMutex
	logger   logging.Logger
}

// NewDemux creates a new message demultiplexer.
func NewDemux(logger logging.Logger) *Demux {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Demux{
		handlers: make(map[MessageType]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers a handler for a specific message type.
func (d *Demux) Handle(msgType MessageType, handler HandlerFunc) *Demux {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = handler
	return d
}

// HandleFunc registers a typed handler. The handler receives the decoded
// payload and the sender's node ID.
func HandleFunc[T any](d *Demux, msgType MessageType, handler func(from string, v *T) error) *Demux {
	return d.Handle(msgType, func(from string, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", MessageTypeName(msgType), err)
		}
		return handler(from, &v)
	})
}

// Dispatch routes a message to the appropriate handler.
// Returns ErrNoHandler if nothing is registered for the message type.
func (d *Demux) Dispatch(msg *Message) error {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, MessageTypeName(msg.Type))
	}

	if err := handler(msg.From, msg.Data); err != nil {
		d.logger.Warn("message handler failed",
			logging.String("type", MessageTypeName(msg.Type)),
			logging.NodeID(msg.From),
			logging.Error(err))
		return err
	}

	return nil
}

// HasHandler returns true if a handler is registered for the message type.
func (d *Demux) HasHandler(msgType MessageType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[msgType]
	return ok
}
