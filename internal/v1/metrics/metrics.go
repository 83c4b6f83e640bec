package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the agent conference server.
//
// Naming convention: namespace_subsystem_name
// - namespace: parley (application-level grouping)
// - subsystem: websocket, room, proposal, bus, tool (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, agents)
// - Counter: Cumulative events (messages, votes, dedup drops)

var (
	// ActiveConnections tracks the current number of active WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomAgents tracks the number of agents in each room
	RoomAgents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "room",
		Name:      "agents_count",
		Help:      "Number of agents in each room",
	}, []string{"room_id"})

	// MessagesBroadcast counts chat messages fanned out locally
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "room",
		Name:      "messages_broadcast_total",
		Help:      "Total chat messages broadcast to local members",
	})

	// ProposalsResolved counts proposals by terminal status
	ProposalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "proposal",
		Name:      "resolved_total",
		Help:      "Total proposals resolved, by status",
	}, []string{"status"})

	// BusPublished counts messages published to the federation bus
	BusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Total messages published to the federation bus",
	})

	// BusDeduplicated counts inbound bus messages dropped by the seen-id set
	BusDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "deduplicated_total",
		Help:      "Total inbound bus messages dropped as duplicates",
	})

	// BusEchoesDropped counts inbound bus messages dropped as self-echo
	BusEchoesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "echoes_dropped_total",
		Help:      "Total inbound bus messages dropped because they originated on this node",
	})

	// BusPublishesDropped counts publishes dropped because the queue was full
	BusPublishesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "publishes_dropped_total",
		Help:      "Total bus publishes dropped due to a full publish queue",
	})

	// ToolInvocations counts tool invocations by outcome
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "tool",
		Name:      "invocations_total",
		Help:      "Total tool invocations, by outcome",
	}, []string{"tool", "outcome"})

	// CircuitBreakerState reflects the bus circuit breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state for the federation bus",
	}, []string{"backend"})

	// CircuitBreakerFailures counts operations rejected by an open circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected while the bus circuit breaker was open",
	}, []string{"backend"})

	// RateLimitExceeded counts rejected websocket connects by limit type
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Connections rejected by rate limiting, by limit type",
	}, []string{"limit_type"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
