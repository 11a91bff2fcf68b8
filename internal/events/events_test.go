package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerStub struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *writerStub) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *writerStub) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	stub := &writerStub{}
	p := &KafkaPublisher{w: stub}

	e := New(TypeMessageCreated, 12, 3, map[string]interface{}{"messageId": 99})
	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, stub.written, 1)

	msg := stub.written[0]
	assert.Equal(t, "12", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, TypeMessageCreated, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, uint(12), decoded.ChatID)
	assert.Equal(t, uint(3), decoded.ActorID)
	assert.Equal(t, TypeMessageCreated, decoded.Type)

	require.NoError(t, p.Close())
	assert.True(t, stub.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{w: &writerStub{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), New(TypeChatRead, 1, 1, nil))
	assert.ErrorContains(t, err, "broker down")
}

func TestNewPublisher(t *testing.T) {
	assert.IsType(t, NopPublisher{}, NewPublisher(nil, "topic"))
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), New(TypeChatCreated, 1, 1, nil)))

	p := NewPublisher([]string{"localhost:9092"}, "topic")
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())
}

func TestNew(t *testing.T) {
	a := New(TypeChatArchived, 1, 2, nil)
	b := New(TypeChatArchived, 1, 2, nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}
