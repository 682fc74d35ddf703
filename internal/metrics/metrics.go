package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collabtext"

// Hub holds the Prometheus collectors for the connection hub.
type Hub struct {
	Connections  prometheus.Gauge
	Received     *prometheus.CounterVec // by message type
	Dropped      *prometheus.CounterVec // by reason
	Sent         *prometheus.CounterVec // by message type
	Skipped      *prometheus.CounterVec // by message type
	DocumentSize prometheus.Gauge
	MirrorDrops  prometheus.Counter
}

// NewHub registers the hub collectors with reg.
func NewHub(reg prometheus.Registerer) *Hub {
	factory := promauto.With(reg)
	return &Hub{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open participant connections",
		}),
		Received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages",
		}, []string{"type"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without a reply",
		}, []string{"reason"}),
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Outbound messages queued to participants",
		}, []string{"type"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_skips_total",
			Help:      "Outbound messages skipped for connections that were not ready",
		}, []string{"type"}),
		DocumentSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "document_bytes",
			Help:      "Size of the current document snapshot",
		}),
		MirrorDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_drops_total",
			Help:      "Events not mirrored because the mirror queue was full",
		}),
	}
}
