package server

import (
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
)

// InitChatRequest opens a chat about a product with its first message.
type InitChatRequest struct {
	ProductID      uint   `json:"productId" validate:"required,gt=0"`
	SellerID       uint   `json:"sellerId" validate:"required,gt=0"`
	InitialMessage string `json:"initialMessage" validate:"notblank,trimmax=2000"`
}

// SendMessageRequest is one message posted to a chat.
type SendMessageRequest struct {
	Content string `json:"content" validate:"notblank,trimmax=2000"`
}

// ArchiveChatRequest sets the caller's archive flag. Archived defaults to true.
type ArchiveChatRequest struct {
	Archived *bool `json:"archived"`
}

// CheckChat reports whether the caller already has a chat with a seller about a product.
// @Summary Check for an existing chat
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param productId query int true "Product ID"
// @Param sellerId query int true "Seller ID"
// @Success 200 {object} service.CheckResult
// @Failure 400 {object} models.ErrorResponse
// @Router /chat/check [get]
func (s *Server) CheckChat(c *fiber.Ctx) error {
	res, err := s.chatService.CheckExists(c.UserContext(), service.CheckInput{
		BuyerID:   middleware.CurrentUserID(c),
		ProductID: parseQueryID(c, "productId"),
		SellerID:  parseQueryID(c, "sellerId"),
	})
	if err != nil {
		return s.respond(c, err)
	}
	return c.JSON(res)
}

// InitChat creates a chat and its first message. The caller is the buyer.
// @Summary Start a chat
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InitChatRequest true "Chat to open"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /chat/init [post]
func (s *Server) InitChat(c *fiber.Ctx) error {
	var req InitChatRequest
	if err := s.bindJSON(c, &req); err != nil {
		return nil
	}

	chat, msg, err := s.chatService.Initiate(c.UserContext(), service.InitiateInput{
		BuyerID:        middleware.CurrentUserID(c),
		ProductID:      req.ProductID,
		SellerID:       req.SellerID,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return s.respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"chat":    chat,
		"message": msg,
	})
}

// GetMessages returns the most recent messages of a chat, oldest first.
// @Summary List messages
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param chatId path int true "Chat ID"
// @Param limit query int false "Page size, at most 50"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "chatId")
	if err != nil {
		return nil
	}

	page, err := s.chatService.ListMessages(c.UserContext(), chatID, middleware.CurrentUserID(c), parseLimit(c, maxMessagePage))
	if err != nil {
		return s.respond(c, err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"messages": page.Messages,
		"chatInfo": page.ChatInfo,
	})
}

// SendMessage posts a message to a chat the caller participates in.
// @Summary Send a message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param chatId path int true "Chat ID"
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Router /chat/{chatId}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "chatId")
	if err != nil {
		return nil
	}
	var req SendMessageRequest
	if err := s.bindJSON(c, &req); err != nil {
		return nil
	}

	msg, err := s.chatService.Send(c.UserContext(), service.SendInput{
		ChatID:    chatID,
		SenderID:  middleware.CurrentUserID(c),
		Content:   req.Content,
		Transport: service.TransportREST,
	})
	if err != nil {
		return s.respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// ListChats returns the caller's conversations, most recently active first.
// @Summary List chats
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param includeArchived query bool false "Include archived chats"
// @Success 200 {object} map[string]interface{}
// @Router /chat/ [get]
func (s *Server) ListChats(c *fiber.Ctx) error {
	chats, err := s.chatService.ListConversations(c.UserContext(), middleware.CurrentUserID(c), c.QueryBool("includeArchived", false))
	if err != nil {
		return s.respond(c, err)
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	return c.JSON(fiber.Map{"chats": chats})
}

// MarkChatRead marks the counterpart's messages read and resets the caller's counter.
// @Summary Mark a chat read
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param chatId path int true "Chat ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId}/read [patch]
func (s *Server) MarkChatRead(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "chatId")
	if err != nil {
		return nil
	}
	if err := s.chatService.MarkRead(c.UserContext(), chatID, middleware.CurrentUserID(c)); err != nil {
		return s.respond(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ArchiveChat hides or restores a chat in the caller's list.
// @Summary Archive a chat
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param chatId path int true "Chat ID"
// @Param request body ArchiveChatRequest false "Archive flag"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId}/archive [patch]
func (s *Server) ArchiveChat(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "chatId")
	if err != nil {
		return nil
	}

	archived := true
	if len(c.Body()) > 0 {
		var req ArchiveChatRequest
		if err := c.BodyParser(&req); err != nil {
			return s.respond(c, models.NewValidationError("Invalid request body"))
		}
		if req.Archived != nil {
			archived = *req.Archived
		}
	}

	if err := s.chatService.Archive(c.UserContext(), chatID, middleware.CurrentUserID(c), archived); err != nil {
		return s.respond(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// GetChatInfo returns the product and participants of a chat.
// @Summary Chat summary
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param chatId path int true "Chat ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId} [get]
func (s *Server) GetChatInfo(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "chatId")
	if err != nil {
		return nil
	}
	info, err := s.chatService.GetChatInfo(c.UserContext(), chatID, middleware.CurrentUserID(c))
	if err != nil {
		return s.respond(c, err)
	}
	return c.JSON(fiber.Map{"chatInfo": info})
}
