package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("chat hub is shut down")

// ChatHub keeps the room membership table of this instance. Rooms are keyed
// by chat id and hold sessions, not users.
type ChatHub struct {
	mu sync.RWMutex

	sessions map[string]*Client
	// chatID -> sessionID -> Client
	rooms map[uint]map[string]*Client
	// sessionID -> joined chat ids
	joined map[string]map[uint]struct{}
	// userID -> open session count
	perUser map[uint]int

	notifier *Notifier
	closed   bool
}

// NewChatHub creates an empty hub delivering locally until Start wires Redis.
func NewChatHub() *ChatHub {
	return &ChatHub{
		sessions: make(map[string]*Client),
		rooms:    make(map[uint]map[string]*Client),
		joined:   make(map[string]map[uint]struct{}),
		perUser:  make(map[uint]int),
	}
}

// Start connects the hub to the Redis room channels. With a disabled
// notifier every broadcast is delivered to this instance only.
func (h *ChatHub) Start(ctx context.Context, n *Notifier) error {
	if !n.Enabled() {
		middleware.Logger.Info("chat hub running without Redis, delivering locally")
		return nil
	}
	err := n.StartRoomSubscriber(ctx, func(channel, payload string) {
		var chatID uint
		if _, err := fmt.Sscanf(channel, "chat:room:%d", &chatID); err != nil {
			middleware.Logger.Warn("invalid room channel", slog.String("channel", channel))
			return
		}
		h.DeliverLocal(chatID, []byte(payload))
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.notifier = n
	h.mu.Unlock()
	return nil
}

// Register opens a session for userID. conn may be nil in tests.
func (h *ChatHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.sessions) >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}
	if h.perUser[userID] >= maxConnsPerUser {
		return nil, errors.New("user connection limit reached")
	}

	client := &Client{
		hub:    h,
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
	h.sessions[client.ID] = client
	h.perUser[userID]++
	observability.WebSocketConnections.Inc()

	middleware.Logger.Debug("chat session registered",
		slog.String("session_id", client.ID),
		slog.Uint64("user_id", uint64(userID)))
	return client, nil
}

// UnregisterClient drops the session and every room membership it held.
func (h *ChatHub) UnregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[c.ID]; !ok {
		return
	}
	for chatID := range h.joined[c.ID] {
		h.removeFromRoom(chatID, c.ID)
	}
	delete(h.joined, c.ID)
	delete(h.sessions, c.ID)
	if h.perUser[c.UserID]--; h.perUser[c.UserID] <= 0 {
		delete(h.perUser, c.UserID)
	}
	close(c.Send)
	observability.WebSocketConnections.Dec()
}

// Join adds the session to chatID's room. Membership is not checked against
// the chat's participants; sends are.
func (h *ChatHub) Join(c *Client, chatID uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[c.ID]; !ok {
		return errors.New("session is not registered")
	}
	room := h.rooms[chatID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[chatID] = room
	}
	room[c.ID] = c

	if h.joined[c.ID] == nil {
		h.joined[c.ID] = make(map[uint]struct{})
	}
	h.joined[c.ID][chatID] = struct{}{}
	observability.RoomJoins.Inc()
	return nil
}

// Leave removes the session from chatID's room.
func (h *ChatHub) Leave(c *Client, chatID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(chatID, c.ID)
	if rooms, ok := h.joined[c.ID]; ok {
		delete(rooms, chatID)
	}
}

func (h *ChatHub) removeFromRoom(chatID uint, sessionID string) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// RoomSize returns how many local sessions are in chatID's room.
func (h *ChatHub) RoomSize(chatID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// SessionCount returns the number of open local sessions.
func (h *ChatHub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// DeliverLocal queues payload to every local session in chatID's room and
// returns how many sessions accepted it.
func (h *ChatHub) DeliverLocal(chatID uint, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.rooms[chatID] {
		if c.TrySend(payload) {
			delivered++
		}
	}
	observability.BroadcastDeliveries.Add(float64(delivered))
	return delivered
}

// BroadcastMessage emits msg as receive-message to the chat's room on every
// instance. A Redis failure falls back to local delivery.
func (h *ChatHub) BroadcastMessage(ctx context.Context, chatID uint, msg *models.Message) error {
	payload, err := EncodeFrame(EventReceiveMessage, "", msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	n := h.notifier
	h.mu.RUnlock()

	if n.Enabled() {
		err := n.PublishRoom(ctx, chatID, payload)
		if err == nil {
			return nil
		}
		middleware.Logger.WarnContext(ctx, "room publish failed, delivering locally",
			slog.Uint64("chat_id", uint64(chatID)),
			slog.String("error", err.Error()))
	}
	h.DeliverLocal(chatID, payload)
	return nil
}

// Shutdown closes every session. Each write pump sends the going-away close
// frame as it drains.
func (h *ChatHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, c := range h.sessions {
		close(c.Send)
		observability.WebSocketConnections.Dec()
	}
	middleware.Logger.Info("chat hub shut down", slog.Int("sessions", len(h.sessions)))

	h.sessions = make(map[string]*Client)
	h.rooms = make(map[uint]map[string]*Client)
	h.joined = make(map[string]map[uint]struct{})
	h.perUser = make(map[uint]int)
	return nil
}
