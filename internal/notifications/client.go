package notifications

import (
	"log/slog"
	"time"

	"marketplace/internal/middleware"
	"marketplace/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBuffer = 256
)

// Client is one realtime session: a socket bound to a verified identity.
type Client struct {
	hub *ChatHub

	// ID is unique per connection, so one user's tabs are separate sessions.
	ID     string
	UserID uint

	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	// IncomingHandler receives every inbound text frame.
	IncomingHandler func(*Client, []byte)
}

// ReadPump reads frames until the socket fails, then unregisters the session.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				middleware.Logger.Warn("websocket read failed",
					slog.String("session_id", c.ID),
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("error", err.Error()))
			}
			return
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump drains Send to the socket and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var dropNotice = []byte(`{"event":"messages_dropped","data":{"reason":"buffer_full"}}`)

// TrySend queues message without blocking. When the buffer is full the frame
// is dropped and the client is told so it can re-fetch the history.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.BackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
	}

	observability.BackpressureDrops.WithLabelValues("full").Inc()
	middleware.Logger.Warn("session buffer full, dropped frame",
		slog.String("session_id", c.ID),
		slog.Uint64("user_id", uint64(c.UserID)))

	select {
	case c.Send <- dropNotice:
	default:
	}
	return false
}
