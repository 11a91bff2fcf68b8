// Package service provides the chat business logic shared by the REST and
// realtime transports.
package service

import (
	"context"
	"log/slog"

	"marketplace/internal/events"
	"marketplace/internal/featureflags"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
)

// Transport names the path a message arrived on.
type Transport string

const (
	TransportREST     Transport = "rest"
	TransportRealtime Transport = "realtime"
)

// BroadcastHook pushes a stored message to the chat's room.
type BroadcastHook interface {
	BroadcastMessage(ctx context.Context, chatID uint, msg *models.Message) error
}

// RateLimiter decides whether a user may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, userID uint) bool
}

// ChatServiceDeps are the collaborators of ChatService. Events, Broadcast,
// Limiter and Flags are optional.
type ChatServiceDeps struct {
	Chats     repository.ChatRepository
	Messages  repository.MessageRepository
	Users     repository.UserRepository
	Products  repository.ProductRepository
	Events    events.Publisher
	Broadcast BroadcastHook
	Limiter   RateLimiter
	Flags     *featureflags.Manager
}

// ChatService provides chat lifecycle, message and read-state operations.
type ChatService struct {
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	products  repository.ProductRepository
	display   *DisplayResolver
	events    events.Publisher
	broadcast BroadcastHook
	limiter   RateLimiter
	flags     *featureflags.Manager
}

// NewChatService returns a new ChatService.
func NewChatService(d ChatServiceDeps) *ChatService {
	publisher := d.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ChatService{
		chats:     d.Chats,
		messages:  d.Messages,
		products:  d.Products,
		display:   NewDisplayResolver(d.Users),
		events:    publisher,
		broadcast: d.Broadcast,
		limiter:   d.Limiter,
		flags:     d.Flags,
	}
}

// SetBroadcastHook installs the room broadcaster once it has been started.
func (s *ChatService) SetBroadcastHook(h BroadcastHook) {
	s.broadcast = h
}

// CheckInput identifies a prospective chat from the buyer's side.
type CheckInput struct {
	BuyerID   uint
	ProductID uint
	SellerID  uint
}

// CheckResult reports whether the chat exists and the caller's unread count.
type CheckResult struct {
	Exists      bool `json:"exists"`
	ChatID      uint `json:"chatId,omitempty"`
	UnreadCount int  `json:"unreadCount"`
}

// CheckExists probes for the chat of a (product, buyer, seller) triple.
func (s *ChatService) CheckExists(ctx context.Context, in CheckInput) (*CheckResult, error) {
	if in.BuyerID == 0 {
		return nil, models.NewUnauthenticatedError("Authentication required")
	}
	if in.ProductID == 0 || in.SellerID == 0 {
		return nil, models.NewValidationError("productId and sellerId are required")
	}

	chat, err := s.chats.FindExisting(ctx, in.ProductID, in.BuyerID, in.SellerID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return &CheckResult{}, nil
	}
	return &CheckResult{Exists: true, ChatID: chat.ID, UnreadCount: chat.UnreadFor(in.BuyerID)}, nil
}

// InitiateInput opens a chat with its first message. The caller is the buyer.
type InitiateInput struct {
	BuyerID        uint
	ProductID      uint
	SellerID       uint
	InitialMessage string
}

// Initiate creates a chat and its first message. A second call for the same
// triple fails with a conflict carrying the existing chat id.
func (s *ChatService) Initiate(ctx context.Context, in InitiateInput) (chat *models.Chat, msg *models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.initiate", observability.UserAttr(in.BuyerID))
	defer func() { observability.EndSpan(span, err) }()

	if in.BuyerID == 0 {
		return nil, nil, models.NewUnauthenticatedError("Authentication required")
	}
	if in.ProductID == 0 || in.SellerID == 0 {
		return nil, nil, models.NewValidationError("productId and sellerId are required")
	}
	content, err := repository.NormalizeContent(in.InitialMessage)
	if err != nil {
		return nil, nil, err
	}
	if in.BuyerID == in.SellerID {
		return nil, nil, models.NewValidationError("Cannot start a chat with yourself")
	}

	if _, err := s.products.GetByID(ctx, in.ProductID); err != nil {
		return nil, nil, err
	}

	existing, err := s.chats.FindExisting(ctx, in.ProductID, in.BuyerID, in.SellerID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		observability.ChatConflicts.WithLabelValues("precheck").Inc()
		return nil, nil, models.NewConflictError("Chat already exists", existing.ID)
	}

	chat = &models.Chat{ProductID: in.ProductID, BuyerID: in.BuyerID, SellerID: in.SellerID}
	if err := s.chats.CreateWithParticipants(ctx, chat); err != nil {
		if models.HasCode(err, models.CodeConflict) {
			observability.ChatConflicts.WithLabelValues("constraint").Inc()
		}
		return nil, nil, err
	}
	observability.ChatsCreated.Inc()

	// The chat stays valid without its first message; lastMessage is only
	// set once the message is stored.
	msg, err = s.messages.Append(ctx, chat.ID, in.BuyerID, content)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "first message not stored",
			slog.Uint64("chat_id", uint64(chat.ID)),
			slog.String("error", err.Error()))
		return nil, nil, err
	}
	if err := s.chats.SetLastMessage(ctx, chat.ID, msg.ID); err != nil {
		return nil, nil, err
	}
	chat.LastMessageID = &msg.ID
	chat.LastMessage = msg
	observability.MessagesSent.WithLabelValues(string(TransportREST)).Inc()

	sender := s.display.ForSender(ctx, in.BuyerID)
	msg.Sender = &sender

	s.publish(ctx, events.New(events.TypeChatCreated, chat.ID, in.BuyerID, map[string]interface{}{
		"productId": chat.ProductID,
		"buyerId":   chat.BuyerID,
		"sellerId":  chat.SellerID,
	}))
	s.publish(ctx, messageEvent(msg, in.SellerID, TransportREST))

	return chat, msg, nil
}

// SendInput is one message from a participant.
type SendInput struct {
	ChatID    uint
	SenderID  uint
	Content   string
	Transport Transport
}

// Send stores a message, moves the chat's last-message pointer, bumps the
// recipient's unread counter and hands the enriched message to the broadcast
// hook. Both transports call it. Realtime sends are always broadcast; REST
// sends are broadcast while the chat_rest_broadcast flag is on.
func (s *ChatService) Send(ctx context.Context, in SendInput) (msg *models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.send",
		observability.ChatAttr(in.ChatID), observability.UserAttr(in.SenderID))
	defer func() { observability.EndSpan(span, err) }()

	if in.SenderID == 0 {
		return nil, models.NewUnauthenticatedError("Authentication required")
	}
	if in.ChatID == 0 {
		return nil, models.NewValidationError("chatId is required")
	}
	content, err := repository.NormalizeContent(in.Content)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, in.SenderID) {
		return nil, models.NewRateLimitedError("Too many messages, slow down")
	}

	chat, err := s.chats.GetByID(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	recipientID, ok := chat.Counterpart(in.SenderID)
	if !ok {
		return nil, models.NewForbiddenError("You are not a participant of this chat")
	}

	msg, err = s.messages.Append(ctx, chat.ID, in.SenderID, content)
	if err != nil {
		return nil, err
	}
	if err := s.chats.SetLastMessage(ctx, chat.ID, msg.ID); err != nil {
		return nil, err
	}
	if err := s.chats.IncrementUnread(ctx, chat.ID, recipientID); err != nil {
		return nil, err
	}

	transport := in.Transport
	if transport == "" {
		transport = TransportREST
	}
	observability.MessagesSent.WithLabelValues(string(transport)).Inc()

	sender := s.display.ForSender(ctx, in.SenderID)
	msg.Sender = &sender

	s.publish(ctx, messageEvent(msg, recipientID, transport))

	if s.shouldBroadcast(transport, in.SenderID) {
		if err := s.broadcast.BroadcastMessage(ctx, chat.ID, msg); err != nil {
			middleware.Logger.WarnContext(ctx, "broadcast failed",
				slog.Uint64("chat_id", uint64(chat.ID)),
				slog.String("error", err.Error()))
		}
	}
	return msg, nil
}

func (s *ChatService) shouldBroadcast(t Transport, senderID uint) bool {
	if s.broadcast == nil {
		return false
	}
	return t == TransportRealtime || s.flags.Enabled(featureflags.RESTBroadcast, senderID)
}

// MessagePage is a message listing with the chat header.
type MessagePage struct {
	Messages []*models.Message `json:"messages"`
	ChatInfo models.ChatInfo   `json:"chatInfo"`
}

// ListMessages returns the newest limit messages of a chat the caller takes
// part in, oldest first, with sender display data.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID uint, limit int) (*MessagePage, error) {
	chat, err := s.chats.GetForParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.ListByChat(ctx, chat.ID, limit)
	if err != nil {
		return nil, err
	}

	names := s.display.newCache()
	for _, m := range messages {
		d := names.get(ctx, m.SenderID)
		m.Sender = &d
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return &MessagePage{
		Messages: messages,
		ChatInfo: models.ChatInfo{
			Product:      s.productSummary(ctx, chat.ProductID).Ref(),
			Participants: participants(ctx, names, chat),
		},
	}, nil
}

// ListConversations returns the caller's chats, newest activity first.
func (s *ChatService) ListConversations(ctx context.Context, userID uint, includeArchived bool) ([]models.ChatSummary, error) {
	if userID == 0 {
		return nil, models.NewUnauthenticatedError("Authentication required")
	}
	chats, err := s.chats.ListForUser(ctx, userID, includeArchived)
	if err != nil {
		return nil, err
	}

	names := s.display.newCache()
	products := make(map[uint]models.ProductSummary)
	out := make([]models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		product, ok := products[c.ProductID]
		if !ok {
			product = s.productSummary(ctx, c.ProductID)
			products[c.ProductID] = product
		}
		summary := models.ChatSummary{
			ID:           c.ID,
			UnreadCount:  c.UnreadCount,
			Archived:     c.Archived,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			Participants: participants(ctx, names, c),
			Product:      product,
		}
		if c.LastMessage != nil {
			summary.LastMessage = &models.LastMessageView{
				Content:   c.LastMessage.Content,
				CreatedAt: c.LastMessage.CreatedAt,
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// MarkRead flags the counterpart's messages read and zeroes the caller's
// counter. Repeating it changes nothing.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID uint) (err error) {
	ctx, span := observability.StartSpan(ctx, "chat.mark_read",
		observability.ChatAttr(chatID), observability.UserAttr(userID))
	defer func() { observability.EndSpan(span, err) }()

	chat, err := s.chats.GetForParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	marked, err := s.messages.MarkRead(ctx, chat.ID, userID)
	if err != nil {
		return err
	}
	if err := s.chats.ResetUnread(ctx, chat.ID, userID); err != nil {
		return err
	}

	s.publish(ctx, events.New(events.TypeChatRead, chat.ID, userID, map[string]interface{}{
		"messagesRead": marked,
	}))
	return nil
}

// Archive hides or restores the chat in the caller's list only.
func (s *ChatService) Archive(ctx context.Context, chatID, userID uint, archived bool) error {
	chat, err := s.chats.GetForParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if err := s.chats.SetArchived(ctx, chat.ID, userID, archived); err != nil {
		return err
	}

	s.publish(ctx, events.New(events.TypeChatArchived, chat.ID, userID, map[string]interface{}{
		"archived": archived,
	}))
	return nil
}

// GetChatInfo returns the product and participants of a chat the caller takes part in.
func (s *ChatService) GetChatInfo(ctx context.Context, chatID, userID uint) (*models.ChatInfo, error) {
	chat, err := s.chats.GetForParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return &models.ChatInfo{
		Product:      s.productSummary(ctx, chat.ProductID).Ref(),
		Participants: participants(ctx, s.display.newCache(), chat),
	}, nil
}

func (s *ChatService) productSummary(ctx context.Context, productID uint) models.ProductSummary {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if !models.HasCode(err, models.CodeNotFound) {
			middleware.Logger.WarnContext(ctx, "product lookup failed",
				slog.Uint64("product_id", uint64(productID)),
				slog.String("error", err.Error()))
		}
		return models.ProductSummary{ID: productID, Name: ProductUnavailableName}
	}
	return models.ProductSummary{ID: p.ID, Name: p.Name, Image: p.Image, Price: p.Price}
}

func participants(ctx context.Context, names *displayCache, c *models.Chat) models.ParticipantsView {
	return models.ParticipantsView{
		Buyer:  names.get(ctx, c.BuyerID),
		Seller: names.get(ctx, c.SellerID),
	}
}

func (s *ChatService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		middleware.Logger.WarnContext(ctx, "event not published",
			slog.String("type", e.Type),
			slog.Uint64("chat_id", uint64(e.ChatID)),
			slog.String("error", err.Error()))
	}
}

func messageEvent(msg *models.Message, recipientID uint, t Transport) events.Event {
	return events.New(events.TypeMessageCreated, msg.ChatID, msg.SenderID, map[string]interface{}{
		"messageId":   msg.ID,
		"recipientId": recipientID,
		"transport":   string(t),
		"createdAt":   msg.CreatedAt,
	})
}
