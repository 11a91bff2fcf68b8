package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts persisted messages by transport (rest, realtime).
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_chat_messages_sent_total",
		Help: "Messages persisted, by originating transport",
	}, []string{"transport"})

	// ChatsCreated counts chats opened through initiate.
	ChatsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_chat_chats_created_total",
		Help: "Chats created",
	})

	// ChatConflicts counts initiate calls answered with a conflict, by how the
	// duplicate was detected (precheck, constraint).
	ChatConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_chat_conflicts_total",
		Help: "Duplicate chat creations rejected",
	}, []string{"source"})

	// WebSocketConnections is the number of open realtime sessions on this instance.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_websocket_connections",
		Help: "Open realtime sessions",
	})

	// RoomJoins counts join-chat requests.
	RoomJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_websocket_room_joins_total",
		Help: "Room joins",
	})

	// WebSocketEvents counts inbound frames by event name.
	WebSocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_websocket_events_total",
		Help: "Inbound realtime events by type",
	}, []string{"event"})

	// BroadcastDeliveries counts frames queued to local room members.
	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_websocket_broadcast_deliveries_total",
		Help: "Room frames queued to local sessions",
	})

	// BackpressureDrops counts frames dropped because a session's buffer was full.
	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_websocket_backpressure_drops_total",
		Help: "Frames dropped due to slow consumers",
	}, []string{"reason"})

	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_redis_errors_total",
		Help: "Failed Redis commands",
	}, []string{"command"})

	// EventPublishFailures counts domain events that could not be written to Kafka.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_event_publish_failures_total",
		Help: "Domain events that failed to publish",
	}, []string{"type"})

	// DatabaseQueryLatency records repository call latency.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_database_query_latency_seconds",
		Help:    "Repository call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery starts a latency measurement; call the result when the query is done.
//
//	defer observability.TrackQuery("list_for_user", "chats")()
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
