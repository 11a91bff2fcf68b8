package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace/internal/config"
	"marketplace/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	s   *Server
	app *fiber.App
	cfg *config.Config
	m   testutil.Marketplace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testutil.Config()
	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)

	s, err := NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.chatHub.Shutdown(context.Background()) })

	return &testEnv{s: s, app: s.App(), cfg: cfg, m: m}
}

// call performs a request as userID (0 sends no credential) and decodes the
// JSON response body.
func (e *testEnv) call(t *testing.T, method, path string, userID uint, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+testutil.Token(t, e.cfg, userID))
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func idOf(t *testing.T, v interface{}) uint {
	t.Helper()
	f, ok := v.(float64)
	require.True(t, ok, "expected a numeric id, got %#v", v)
	return uint(f)
}

func (e *testEnv) initChat(t *testing.T) uint {
	t.Helper()
	status, body := e.call(t, http.MethodPost, "/chat/init", e.m.Buyer.ID, fiber.Map{
		"productId":      e.m.Product.ID,
		"sellerId":       e.m.Seller.ID,
		"initialMessage": "Is this available?",
	})
	require.Equal(t, http.StatusCreated, status, body)
	chat := body["chat"].(map[string]interface{})
	return idOf(t, chat["id"])
}

func TestChatHandlers_Flow(t *testing.T) {
	e := newTestEnv(t)
	buyer, seller := e.m.Buyer.ID, e.m.Seller.ID
	checkPath := fmt.Sprintf("/chat/check?productId=%d&sellerId=%d", e.m.Product.ID, seller)

	status, body := e.call(t, http.MethodGet, checkPath, buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["exists"])

	chatID := e.initChat(t)

	t.Run("duplicate init conflicts with the same chat", func(t *testing.T) {
		status, body := e.call(t, http.MethodPost, "/chat/init", buyer, fiber.Map{
			"productId":      e.m.Product.ID,
			"sellerId":       seller,
			"initialMessage": "Hello again",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "CONFLICT", body["code"])
		assert.Equal(t, chatID, idOf(t, body["chatId"]))
	})

	status, body = e.call(t, http.MethodPost, fmt.Sprintf("/chat/%d/messages", chatID), seller, fiber.Map{
		"content": "Yes, still available",
	})
	require.Equal(t, http.StatusCreated, status, body)
	msg := body["message"].(map[string]interface{})
	assert.Equal(t, "Yes, still available", msg["content"])
	assert.Equal(t, "seller", msg["sender"].(map[string]interface{})["name"])

	status, body = e.call(t, http.MethodGet, checkPath, buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, chatID, idOf(t, body["chatId"]))
	assert.Equal(t, float64(1), body["unreadCount"])

	status, body = e.call(t, http.MethodGet, fmt.Sprintf("/chat/%d/messages", chatID), buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "Is this available?", messages[0].(map[string]interface{})["content"])
	assert.Equal(t, "Yes, still available", messages[1].(map[string]interface{})["content"])
	info := body["chatInfo"].(map[string]interface{})
	assert.Equal(t, "bike", info["product"].(map[string]interface{})["name"])

	status, body = e.call(t, http.MethodPatch, fmt.Sprintf("/chat/%d/read", chatID), buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	_, body = e.call(t, http.MethodGet, checkPath, buyer, nil)
	assert.Equal(t, float64(0), body["unreadCount"])

	status, body = e.call(t, http.MethodGet, fmt.Sprintf("/chat/%d", chatID), seller, nil)
	require.Equal(t, http.StatusOK, status)
	product := body["chatInfo"].(map[string]interface{})["product"].(map[string]interface{})
	assert.Equal(t, "bike", product["name"])
	assert.NotContains(t, product, "price")
}

func TestChatHandlers_ListAndArchive(t *testing.T) {
	e := newTestEnv(t)
	buyer := e.m.Buyer.ID
	chatID := e.initChat(t)

	listed := func(path string) []interface{} {
		status, body := e.call(t, http.MethodGet, path, buyer, nil)
		require.Equal(t, http.StatusOK, status)
		return body["chats"].([]interface{})
	}

	chats := listed("/chat/")
	require.Len(t, chats, 1)
	entry := chats[0].(map[string]interface{})
	assert.Equal(t, chatID, idOf(t, entry["id"]))
	assert.Equal(t, "Is this available?", entry["lastMessage"].(map[string]interface{})["content"])
	// Listings carry the price; the chat header does not.
	assert.Equal(t, float64(10), entry["product"].(map[string]interface{})["price"])

	status, _ := e.call(t, http.MethodPatch, fmt.Sprintf("/chat/%d/archive", chatID), buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, listed("/chat/"))
	assert.Len(t, listed("/chat/?includeArchived=true"), 1)

	status, _ = e.call(t, http.MethodPatch, fmt.Sprintf("/chat/%d/archive", chatID), buyer, fiber.Map{"archived": false})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed("/chat/"), 1)
}

func TestChatHandlers_Errors(t *testing.T) {
	e := newTestEnv(t)
	chatID := e.initChat(t)
	stranger := testutil.CreateUser(t, e.s.db, "stranger", "")

	tests := []struct {
		name   string
		method string
		path   string
		userID uint
		body   interface{}
		status int
		code   string
	}{
		{"no credential", http.MethodGet, "/chat/", 0, nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"malformed chat id", http.MethodGet, "/chat/abc/messages", e.m.Buyer.ID, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"check without product", http.MethodGet, "/chat/check?sellerId=2", e.m.Buyer.ID, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"blank initial message", http.MethodPost, "/chat/init", e.m.Buyer.ID, fiber.Map{"productId": e.m.Product.ID, "sellerId": e.m.Seller.ID, "initialMessage": "   "}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown product", http.MethodPost, "/chat/init", e.m.Buyer.ID, fiber.Map{"productId": 999, "sellerId": e.m.Seller.ID, "initialMessage": "hi"}, http.StatusNotFound, "NOT_FOUND"},
		{"send by non participant", http.MethodPost, fmt.Sprintf("/chat/%d/messages", chatID), stranger.ID, fiber.Map{"content": "hi"}, http.StatusForbidden, "FORBIDDEN"},
		{"send to missing chat", http.MethodPost, "/chat/999/messages", e.m.Buyer.ID, fiber.Map{"content": "hi"}, http.StatusNotFound, "NOT_FOUND"},
		{"empty content", http.MethodPost, fmt.Sprintf("/chat/%d/messages", chatID), e.m.Buyer.ID, fiber.Map{"content": ""}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"read by non participant", http.MethodPatch, fmt.Sprintf("/chat/%d/read", chatID), stranger.ID, nil, http.StatusNotFound, "NOT_FOUND"},
		{"messages of foreign chat", http.MethodGet, fmt.Sprintf("/chat/%d/messages", chatID), stranger.ID, nil, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := e.call(t, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestChatHandlers_SendTooLong(t *testing.T) {
	e := newTestEnv(t)
	chatID := e.initChat(t)

	status, body := e.call(t, http.MethodPost, fmt.Sprintf("/chat/%d/messages", chatID), e.m.Buyer.ID, fiber.Map{
		"content": string(bytes.Repeat([]byte("a"), 2001)),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "2000")
}

func TestHealthAndFeatures(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.call(t, http.MethodGet, "/health/live", 0, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", body["status"])

	status, body = e.call(t, http.MethodGet, "/health/ready", 0, nil)
	assert.Equal(t, http.StatusOK, status)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "disabled", checks["redis"])

	status, body = e.call(t, http.MethodGet, "/features", e.m.Buyer.ID, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["evaluated"].(map[string]interface{})["chat_rest_broadcast"])
}
