package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.MessagesSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_transport_messages_sent_total",
			Help: "Messages sent through the transport, by type",
		},
		[]string{"type"},
	)

	r.MessagesReceivedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_transport_messages_received_total",
			Help: "Messages received from the transport, by type",
		},
		[]string{"type"},
	)

	r.SendErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcoord_transport_send_errors_total",
			Help: "Send or broadcast attempts that returned an error",
		},
	)

	r.PayloadBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcoord_transport_payload_bytes_total",
			Help: "Wire payload bytes moved, by direction",
		},
		[]string{"direction"}, // sent, received
	)
}
