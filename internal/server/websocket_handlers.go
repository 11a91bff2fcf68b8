package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/observability"
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// requireUpgrade rejects plain HTTP requests to a WebSocket endpoint.
func requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// sendMessageData is the payload of a send-message frame.
type sendMessageData struct {
	ChatID  json.RawMessage `json:"chatId"`
	Content string          `json:"content"`
}

// WebSocketChatHandler serves /ws/chat. The identity comes from the
// handshake credential checked by WebSocketAuthRequired; frames never carry
// a sender id.
// @Summary Realtime chat
// @Description Upgrades to a WebSocket. Pass the credential as the token query parameter or a header.
// @Tags chat
// @Param token query string false "Access token"
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/chat [get]
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(middleware.LocalUserID).(uint)
		if userID == 0 {
			writeErrorAndClose(conn, "Authentication required")
			return
		}

		client, err := s.chatHub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket registration rejected",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()))
			writeErrorAndClose(conn, "Connection limit reached")
			return
		}
		client.IncomingHandler = s.handleChatFrame

		middleware.Logger.Debug("websocket connected",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("session_id", client.ID))

		if frame, err := notifications.EncodeFrame(notifications.EventConnected, "", fiber.Map{"sessionId": client.ID}); err == nil {
			client.TrySend(frame)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func writeErrorAndClose(conn *websocket.Conn, msg string) {
	if frame, err := notifications.EncodeFrame(notifications.EventError, "", fiber.Map{"error": msg}); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
	_ = conn.Close()
}

// handleChatFrame dispatches one inbound frame. A failing frame is answered
// on the socket and never closes it.
func (s *Server) handleChatFrame(c *notifications.Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			middleware.Logger.Error("panic handling chat frame",
				slog.String("session_id", c.ID),
				slog.Any("panic", r))
			sendError(c, "", "Internal server error")
		}
	}()

	ctx := middleware.WithUserID(s.shutdownCtx, c.UserID)

	frame, err := notifications.DecodeFrame(raw)
	if err != nil {
		observability.WebSocketEvents.WithLabelValues("malformed").Inc()
		sendError(c, "", "Malformed frame")
		return
	}

	switch frame.Event {
	case notifications.EventJoinChat:
		observability.WebSocketEvents.WithLabelValues(frame.Event).Inc()
		s.handleJoin(ctx, c, frame)
	case notifications.EventLeaveChat:
		observability.WebSocketEvents.WithLabelValues(frame.Event).Inc()
		chatID, err := notifications.ParseChatID(frame.Data)
		if err != nil {
			sendError(c, frame.AckID, "Invalid chat id")
			return
		}
		s.chatHub.Leave(c, chatID)
		sendAck(c, frame.AckID, notifications.Ack{Status: "success"})
	case notifications.EventSendMessage:
		observability.WebSocketEvents.WithLabelValues(frame.Event).Inc()
		s.handleSend(ctx, c, frame)
	default:
		observability.WebSocketEvents.WithLabelValues("unknown").Inc()
		sendError(c, frame.AckID, fmt.Sprintf("Unknown event %q", frame.Event))
	}
}

func (s *Server) handleJoin(ctx context.Context, c *notifications.Client, frame notifications.Frame) {
	chatID, err := notifications.ParseChatID(frame.Data)
	if err != nil {
		sendError(c, frame.AckID, "Invalid chat id")
		return
	}
	if err := s.chatHub.Join(c, chatID); err != nil {
		middleware.Logger.WarnContext(ctx, "join-chat failed",
			slog.Uint64("chat_id", uint64(chatID)),
			slog.String("error", err.Error()))
		sendError(c, frame.AckID, "Could not join chat")
		return
	}
	sendAck(c, frame.AckID, notifications.Ack{Status: "success"})
}

func (s *Server) handleSend(ctx context.Context, c *notifications.Client, frame notifications.Frame) {
	var data sendMessageData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		sendAck(c, frame.AckID, notifications.Ack{Status: "error", Error: "Invalid message payload"})
		return
	}
	chatID, err := notifications.ParseChatID(data.ChatID)
	if err != nil {
		sendAck(c, frame.AckID, notifications.Ack{Status: "error", Error: "Invalid chat id"})
		return
	}

	msg, err := s.chatService.Send(ctx, service.SendInput{
		ChatID:    chatID,
		SenderID:  c.UserID,
		Content:   data.Content,
		Transport: service.TransportRealtime,
	})
	if err != nil {
		sendAck(c, frame.AckID, notifications.Ack{Status: "error", Error: ackError(err)})
		return
	}
	sendAck(c, frame.AckID, notifications.Ack{Status: "success", Message: msg})
}

// ackError is the client-facing text of a failed operation.
func ackError(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
		return appErr.Message
	}
	return "Internal server error"
}

func sendAck(c *notifications.Client, ackID string, ack notifications.Ack) {
	if ackID == "" && ack.Status == "success" {
		return
	}
	event := notifications.EventAck
	if ackID == "" {
		event = notifications.EventError
	}
	frame, err := notifications.EncodeFrame(event, ackID, ack)
	if err != nil {
		middleware.Logger.Error("encode ack failed", slog.String("error", err.Error()))
		return
	}
	c.TrySend(frame)
}

func sendError(c *notifications.Client, ackID, msg string) {
	if ackID != "" {
		sendAck(c, ackID, notifications.Ack{Status: "error", Error: msg})
		return
	}
	frame, err := notifications.EncodeFrame(notifications.EventError, "", fiber.Map{"error": msg})
	if err != nil {
		return
	}
	c.TrySend(frame)
}
