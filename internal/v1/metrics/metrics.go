package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaborative editing relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: collab_relay (application-level grouping)
// - subsystem: websocket, room, sync (feature-level grouping)
// - name: specific metric (connections_active, frames_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (frames relayed, rejections)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants in each room
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab_relay",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room"})

	// ControlEvents tracks the total number of JSON control messages processed
	ControlEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_relay",
		Subsystem: "websocket",
		Name:      "control_events_total",
		Help:      "Total JSON control messages processed",
	}, []string{"event_type", "status"})

	// SyncFrames tracks the total number of binary CRDT frames relayed
	SyncFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_relay",
		Subsystem: "sync",
		Name:      "frames_total",
		Help:      "Total binary CRDT frames ingested and fanned out",
	}, []string{"direction"})

	// AdmissionRejections tracks join attempts the gate turned away
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_relay",
		Subsystem: "room",
		Name:      "admission_rejections_total",
		Help:      "Join attempts rejected at admission",
	}, []string{"reason"})

	// MessageProcessingDuration tracks the time spent processing control messages
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab_relay",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing control messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// RateLimitRequests counts rate-limited surfaces that admitted a request
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_relay",
		Subsystem: "websocket",
		Name:      "rate_limit_requests_total",
		Help:      "Requests checked against a rate limit",
	}, []string{"surface"})

	// RateLimitExceeded counts requests turned away by a rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_relay",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by a rate limit",
	}, []string{"surface", "key_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
