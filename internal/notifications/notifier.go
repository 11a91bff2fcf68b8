// Package notifications is the realtime broadcaster: chat rooms of WebSocket
// sessions, fanned out across instances through Redis pub/sub.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"marketplace/internal/cache"
	"marketplace/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes room frames to Redis and subscribes to them.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a Notifier. A nil client turns it into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether frames travel through Redis.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishRoom sends a frame to every instance serving chatID's room.
func (n *Notifier) PublishRoom(ctx context.Context, chatID uint, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, cache.RoomChannel(chatID), payload).Err()
}

// StartRoomSubscriber subscribes to every room channel and calls onMessage
// for each frame until ctx is cancelled. It returns once the subscription is
// confirmed.
func (n *Notifier) StartRoomSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, cache.RoomChannelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", cache.RoomChannelPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in room subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
