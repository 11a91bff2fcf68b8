package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/service"
	"marketplace/internal/testutil"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve runs the app on a loopback listener and returns its address.
func (e *testEnv) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.Shutdown() })
	return ln.Addr().String()
}

func (e *testEnv) dial(t *testing.T, addr string, userID uint) *gws.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws/chat?token=%s", addr, testutil.Token(t, e.cfg, userID))
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	f := readFrame(t, conn)
	require.Equal(t, notifications.EventConnected, f.Event)
	return conn
}

func readFrame(t *testing.T, conn *gws.Conn) notifications.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := notifications.DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func writeFrame(t *testing.T, conn *gws.Conn, event, ackID string, data interface{}) {
	t.Helper()
	raw, err := notifications.EncodeFrame(event, ackID, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gws.TextMessage, raw))
}

func decodeAck(t *testing.T, f notifications.Frame) notifications.Ack {
	t.Helper()
	var ack notifications.Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	return ack
}

func decodeMessage(t *testing.T, f notifications.Frame) models.Message {
	t.Helper()
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	return msg
}

func (e *testEnv) openChat(t *testing.T) uint {
	t.Helper()
	chat, _, err := e.s.chatService.Initiate(context.Background(), service.InitiateInput{
		BuyerID:        e.m.Buyer.ID,
		ProductID:      e.m.Product.ID,
		SellerID:       e.m.Seller.ID,
		InitialMessage: "Is this available?",
	})
	require.NoError(t, err)
	return chat.ID
}

func TestWebSocket_HandshakeRejections(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.call(t, http.MethodGet, "/ws/chat", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?token=not-a-token", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	status, _ = e.call(t, http.MethodGet, "/ws/chat", e.m.Buyer.ID, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestWebSocket_JoinSendAndBroadcast(t *testing.T) {
	e := newTestEnv(t)
	chatID := e.openChat(t)
	addr := e.serve(t)

	buyer := e.dial(t, addr, e.m.Buyer.ID)
	seller := e.dial(t, addr, e.m.Seller.ID)

	for _, conn := range []*gws.Conn{buyer, seller} {
		writeFrame(t, conn, notifications.EventJoinChat, "j1", chatID)
		f := readFrame(t, conn)
		require.Equal(t, notifications.EventAck, f.Event)
		assert.Equal(t, "j1", f.AckID)
		assert.Equal(t, "success", decodeAck(t, f).Status)
	}

	// The chat id may also arrive as a numeric string.
	writeFrame(t, buyer, notifications.EventSendMessage, "s1", map[string]interface{}{
		"chatId":  fmt.Sprint(chatID),
		"content": "Can you ship it?",
	})

	// The sender's own session receives the broadcast as well as the ack.
	var gotBroadcast, gotAck bool
	for i := 0; i < 2; i++ {
		f := readFrame(t, buyer)
		switch f.Event {
		case notifications.EventReceiveMessage:
			gotBroadcast = true
			assert.Equal(t, "Can you ship it?", decodeMessage(t, f).Content)
		case notifications.EventAck:
			gotAck = true
			assert.Equal(t, "s1", f.AckID)
			assert.Equal(t, "success", decodeAck(t, f).Status)
		default:
			t.Fatalf("unexpected frame %q", f.Event)
		}
	}
	assert.True(t, gotBroadcast)
	assert.True(t, gotAck)

	f := readFrame(t, seller)
	require.Equal(t, notifications.EventReceiveMessage, f.Event)
	msg := decodeMessage(t, f)
	assert.Equal(t, e.m.Buyer.ID, msg.SenderID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "buyer", msg.Sender.Name)

	check, err := e.s.chatService.CheckExists(context.Background(), service.CheckInput{
		BuyerID: e.m.Buyer.ID, ProductID: e.m.Product.ID, SellerID: e.m.Seller.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, chatID, check.ChatID)

	t.Run("REST sends reach the room", func(t *testing.T) {
		status, body := e.call(t, http.MethodPost, fmt.Sprintf("/chat/%d/messages", chatID), e.m.Seller.ID, map[string]string{
			"content": "Yes, tomorrow",
		})
		require.Equal(t, http.StatusCreated, status, body)

		f := readFrame(t, buyer)
		require.Equal(t, notifications.EventReceiveMessage, f.Event)
		assert.Equal(t, "Yes, tomorrow", decodeMessage(t, f).Content)
	})
}

func TestWebSocket_SendErrorsAreAcked(t *testing.T) {
	e := newTestEnv(t)
	chatID := e.openChat(t)
	addr := e.serve(t)

	stranger := testutil.CreateUser(t, e.s.db, "stranger", "")
	conn := e.dial(t, addr, stranger.ID)

	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{"not a participant", map[string]interface{}{"chatId": chatID, "content": "hi"}, "not a participant"},
		{"bad chat id", map[string]interface{}{"chatId": "abc", "content": "hi"}, "Invalid chat id"},
		{"blank content", map[string]interface{}{"chatId": chatID, "content": "  "}, "content"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ackID := fmt.Sprintf("a%d", i)
			writeFrame(t, conn, notifications.EventSendMessage, ackID, tt.data)
			f := readFrame(t, conn)
			require.Equal(t, notifications.EventAck, f.Event)
			assert.Equal(t, ackID, f.AckID)
			ack := decodeAck(t, f)
			assert.Equal(t, "error", ack.Status)
			assert.Contains(t, ack.Error, tt.want)
		})
	}

	// The connection survives failed sends and malformed frames.
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, notifications.EventError, f.Event)

	writeFrame(t, conn, "dance", "x1", nil)
	f = readFrame(t, conn)
	assert.Equal(t, notifications.EventAck, f.Event)
	assert.Equal(t, "error", decodeAck(t, f).Status)
}

func TestWebSocket_DisconnectDropsMembership(t *testing.T) {
	e := newTestEnv(t)
	chatID := e.openChat(t)
	addr := e.serve(t)

	conn := e.dial(t, addr, e.m.Buyer.ID)
	writeFrame(t, conn, notifications.EventJoinChat, "j", chatID)
	readFrame(t, conn)
	require.Equal(t, 1, e.s.chatHub.RoomSize(chatID))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return e.s.chatHub.RoomSize(chatID) == 0 && e.s.chatHub.SessionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAckError(t *testing.T) {
	assert.Equal(t, "Chat with ID 1 not found", ackError(models.NewNotFoundError("Chat", 1)))
	assert.Equal(t, "Internal server error", ackError(models.NewInternalError(errors.New("db down"))))
	assert.Equal(t, "Internal server error", ackError(errors.New("boom")))
}
