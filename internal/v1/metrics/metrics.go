package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game-room service.
//
// Naming convention: namespace_subsystem_name
// - namespace: tabletop (application-level grouping)
// - subsystem: websocket, room, events, store (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (frames processed, broadcasts)
// - Histogram: Latency distributions (store ops, fan-out size)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with live presence (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one tracked player",
	})

	// RoomPlayers tracks the number of tracked players in each room (GaugeVec with room_id label)
	// Using Gauge instead of Histogram because we want current player count per room,
	// not distribution of historical counts
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of tracked players in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket events processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletop",
		Subsystem: "events",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// BroadcastFanout tracks how many sockets each room broadcast reached (HistogramVec)
	BroadcastFanout = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tabletop",
		Subsystem: "events",
		Name:      "broadcast_fanout",
		Help:      "Number of sockets reached per room broadcast",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	}, []string{"event_type"})

	// StoreOperationDuration tracks document-store call latency (HistogramVec - latency distribution)
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tabletop",
		Subsystem: "store",
		Name:      "operation_seconds",
		Help:      "Time spent in document store operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"collection", "operation"})

	// CircuitBreakerState reports breaker state per downstream (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per downstream (0=closed, 1=half-open, 2=open)",
	}, []string{"target"})

	// CircuitBreakerFailures counts calls rejected by an open breaker (CounterVec by target)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletop",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected because a circuit breaker was open",
	}, []string{"target"})

	// RateLimitRequests counts requests that passed the rate limiter (CounterVec by endpoint)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletop",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked by the rate limiter",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by the rate limiter (CounterVec by endpoint and limit type)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletop",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
