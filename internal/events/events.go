// Package events publishes chat domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"marketplace/internal/middleware"
	"marketplace/internal/observability"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Event types.
const (
	TypeChatCreated    = "chat.created"
	TypeMessageCreated = "message.created"
	TypeChatRead       = "chat.read"
	TypeChatArchived   = "chat.archived"
)

// Event is the envelope written to the topic. Data carries the type-specific
// payload.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	ChatID     uint        `json:"chatId"`
	ActorID    uint        `json:"actorId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, chatID, actorID uint, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ChatID:     chatID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher emits domain events. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event. It is used when KAFKA_BROKERS is empty.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                        { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by chat id, so one chat's events stay
// ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher returns an asynchronous publisher for topic. Delivery
// failures are counted and logged by the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   reportFailures,
	}
	return &KafkaPublisher{w: w}
}

// NewPublisher returns a KafkaPublisher, or a NopPublisher without brokers.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(e.ChatID), 10)),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		observability.EventPublishFailures.WithLabelValues(e.Type).Inc()
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func reportFailures(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		eventType := "unknown"
		for _, h := range m.Headers {
			if h.Key == "event-type" {
				eventType = string(h.Value)
			}
		}
		observability.EventPublishFailures.WithLabelValues(eventType).Inc()
	}
	middleware.Logger.Warn("kafka delivery failed", slog.Int("messages", len(msgs)), slog.String("error", err.Error()))
}

// headerCarrier lets the otel propagator write trace context into Kafka headers.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
