package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/metrics"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

// Prober measures a remote node's health.
type Prober interface {
	Probe(ctx context.Context, nodeID string) (NodeMetrics, error)
}

type probeRequest struct {
	ID string `json:"id"`
}

type probeReply struct {
	ID      string      `json:"id"`
	Metrics NodeMetrics `json:"metrics"`
}

// TransportProber probes peers over the transport with a request/reply
// exchange. Replies are matched to waiting probes by request ID; a missing
// reply inside the timeout is reported as ErrProbeTimeout.
type TransportProber struct {
	tr      transport.Transport
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan probeReply

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewTransportProber wires a prober over the transport and registers its
// reply handler.
func NewTransportProber(tr transport.Transport, timeout time.Duration, reg *metrics.Registry, logger logging.Logger) *TransportProber {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = DefaultConfig().ProbeTimeout
	}
	p := &TransportProber{
		tr:      tr,
		timeout: timeout,
		pending: make(map[string]chan probeReply),
		logger:  logger.With(logging.Component("health-prober")),
		metrics: reg,
	}
	tr.Handle(transport.MsgProbeReply, p.handleReply)
	return p
}

// Probe sends one health probe and waits for the matching reply.
func (p *TransportProber) Probe(ctx context.Context, nodeID string) (NodeMetrics, error) {
	id := uuid.NewString()
	ch := make(chan probeReply, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	msg, err := transport.NewMessage(transport.MsgProbe, p.tr.LocalID(), probeRequest{ID: id})
	if err != nil {
		return NodeMetrics{}, err
	}

	start := time.Now()
	if err := p.tr.Send(ctx, nodeID, msg); err != nil {
		return NodeMetrics{}, fmt.Errorf("probe send to %s: %w", nodeID, err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if p.metrics != nil {
			p.metrics.ProbeDuration.Observe(time.Since(start).Seconds())
		}
		return reply.Metrics, nil
	case <-ctx.Done():
		return NodeMetrics{}, ctx.Err()
	case <-timer.C:
		if p.metrics != nil {
			p.metrics.ProbeTimeoutsTotal.Inc()
		}
		p.logger.Debug("probe timed out",
			logging.NodeID(nodeID),
			logging.Duration("timeout", p.timeout))
		return NodeMetrics{}, fmt.Errorf("%w: %s after %s", ErrProbeTimeout, nodeID, p.timeout)
	}
}

func (p *TransportProber) handleReply(from string, data []byte) error {
	var reply probeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("malformed probe reply from %s: %w", from, err)
	}

	p.mu.Lock()
	ch, ok := p.pending[reply.ID]
	p.mu.Unlock()
	if !ok {
		// Late reply after timeout; the probe already gave up.
		return nil
	}
	select {
	case ch <- reply:
	default:
	}
	return nil
}

// RespondProbes registers a handler that answers incoming probes with the
// local probe's current measurements.
func RespondProbes(tr transport.Transport, probe *LocalProbe) {
	tr.Handle(transport.MsgProbe, func(from string, data []byte) error {
		var req probeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("malformed probe from %s: %w", from, err)
		}
		msg, err := transport.NewMessage(transport.MsgProbeReply, tr.LocalID(), probeReply{
			ID:      req.ID,
			Metrics: probe.Collect(),
		})
		if err != nil {
			return err
		}
		return tr.Send(context.Background(), from, msg)
	})
}
