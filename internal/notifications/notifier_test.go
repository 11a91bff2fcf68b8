package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Disabled(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishRoom(context.Background(), 1, []byte("x")))
	assert.NoError(t, n.StartRoomSubscriber(context.Background(), func(string, string) {}))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
}

func TestNotifier_RoomSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type delivery struct{ channel, payload string }
	got := make(chan delivery, 4)
	require.NoError(t, n.StartRoomSubscriber(ctx, func(channel, payload string) {
		if payload == "boom" {
			panic("handler failure")
		}
		got <- delivery{channel, payload}
	}))

	// A panicking handler does not stop the subscriber.
	require.NoError(t, n.PublishRoom(context.Background(), 3, []byte("boom")))
	require.NoError(t, n.PublishRoom(context.Background(), 3, []byte("hello")))

	select {
	case d := <-got:
		assert.Equal(t, "chat:room:3", d.channel)
		assert.Equal(t, "hello", d.payload)
	case <-time.After(time.Second):
		t.Fatal("room frame not delivered")
	}
}

func TestFrames(t *testing.T) {
	raw, err := EncodeFrame(EventAck, "a1", Ack{Status: "error", Error: "nope"})
	require.NoError(t, err)

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, EventAck, f.Event)
	assert.Equal(t, "a1", f.AckID)
	var ack Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.Equal(t, "nope", ack.Error)

	_, err = DecodeFrame([]byte(`{"data":1}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseChatID(t *testing.T) {
	tests := []struct {
		raw   string
		want  uint
		valid bool
	}{
		{`12`, 12, true},
		{`"34"`, 34, true},
		{`" 5 "`, 5, true},
		{`0`, 0, false},
		{`"abc"`, 0, false},
		{`-1`, 0, false},
		{`{"chatId":1}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			id, err := ParseChatID(json.RawMessage(tt.raw))
			if !tt.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}
