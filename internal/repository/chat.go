// Package repository implements the data access layer: chats, messages and
// the profile and catalog lookups the chat service depends on.
package repository

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/observability"

	"gorm.io/gorm"
)

// ChatRepository is the conversation store.
type ChatRepository interface {
	FindExisting(ctx context.Context, productID, buyerID, sellerID uint) (*models.Chat, error)
	CreateWithParticipants(ctx context.Context, chat *models.Chat) error
	GetByID(ctx context.Context, id uint) (*models.Chat, error)
	GetForParticipant(ctx context.Context, id, userID uint) (*models.Chat, error)
	SetLastMessage(ctx context.Context, chatID, messageID uint) error
	IncrementUnread(ctx context.Context, chatID, recipientID uint) error
	ResetUnread(ctx context.Context, chatID, readerID uint) error
	SetArchived(ctx context.Context, chatID, userID uint, archived bool) error
	ListForUser(ctx context.Context, userID uint, includeArchived bool) ([]*models.Chat, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository returns the gorm-backed ChatRepository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// FindExisting returns the chat for the triple, or nil when none exists.
func (r *chatRepository) FindExisting(ctx context.Context, productID, buyerID, sellerID uint) (*models.Chat, error) {
	defer observability.TrackQuery("find_existing", "chats")()

	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("product_id = ? AND buyer_id = ? AND seller_id = ?", productID, buyerID, sellerID).
		Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	chat.Hydrate()
	return &chat, nil
}

// CreateWithParticipants inserts chat and its buyer and seller rows in one
// transaction. The seller starts with one unread message, the one that opens
// the chat. A duplicate triple is reported as a conflict carrying the id of
// the chat that won.
func (r *chatRepository) CreateWithParticipants(ctx context.Context, chat *models.Chat) error {
	defer observability.TrackQuery("create", "chats")()

	chat.Participants = []models.ChatParticipant{
		{UserID: chat.BuyerID, Role: models.RoleBuyer, UnreadCount: 0},
		{UserID: chat.SellerID, Role: models.RoleSeller, UnreadCount: 1},
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(chat).Error
	})
	if err == nil {
		chat.Hydrate()
		return nil
	}

	chat.ID = 0
	if !isUniqueViolation(err) {
		return models.NewInternalError(err)
	}

	existing, findErr := r.FindExisting(ctx, chat.ProductID, chat.BuyerID, chat.SellerID)
	if findErr != nil || existing == nil {
		return models.NewConflictError("Chat already exists", 0)
	}
	return models.NewConflictError("Chat already exists", existing.ID)
}

func (r *chatRepository) GetByID(ctx context.Context, id uint) (*models.Chat, error) {
	defer observability.TrackQuery("get_by_id", "chats")()

	var chat models.Chat
	if err := r.db.WithContext(ctx).Preload("Participants").First(&chat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", id)
		}
		return nil, models.NewInternalError(err)
	}
	chat.Hydrate()
	return &chat, nil
}

// GetForParticipant is GetByID scoped to the chat's buyer and seller: any
// other caller sees NotFound.
func (r *chatRepository) GetForParticipant(ctx context.Context, id, userID uint) (*models.Chat, error) {
	chat, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) {
		return nil, models.NewNotFoundError("Chat", id)
	}
	return chat, nil
}

func (r *chatRepository) SetLastMessage(ctx context.Context, chatID, messageID uint) error {
	defer observability.TrackQuery("set_last_message", "chats")()

	res := r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{"last_message_id": messageID, "updated_at": time.Now()})
	return rowsOrNotFound(res, "Chat", chatID)
}

// IncrementUnread adds one to the recipient's counter in a single UPDATE so
// concurrent sends never lose an increment.
func (r *chatRepository) IncrementUnread(ctx context.Context, chatID, recipientID uint) error {
	defer observability.TrackQuery("increment_unread", "chat_participants")()

	res := r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, recipientID).
		Update("unread_count", gorm.Expr("unread_count + ?", 1))
	return rowsOrNotFound(res, "Chat participant", recipientID)
}

func (r *chatRepository) ResetUnread(ctx context.Context, chatID, readerID uint) error {
	defer observability.TrackQuery("reset_unread", "chat_participants")()

	return r.updateParticipant(ctx, chatID, readerID, "unread_count", 0)
}

func (r *chatRepository) SetArchived(ctx context.Context, chatID, userID uint, archived bool) error {
	defer observability.TrackQuery("set_archived", "chat_participants")()

	return r.updateParticipant(ctx, chatID, userID, "archived", archived)
}

func (r *chatRepository) updateParticipant(ctx context.Context, chatID, userID uint, column string, value interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Update(column, value)
		if err := rowsOrNotFound(res, "Chat participant", userID); err != nil {
			return err
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

// ListForUser returns the user's chats, most recently updated first, each
// with its participants and last message loaded. Chats the user archived are
// skipped unless includeArchived is set.
func (r *chatRepository) ListForUser(ctx context.Context, userID uint, includeArchived bool) ([]*models.Chat, error) {
	defer observability.TrackQuery("list_for_user", "chats")()

	db := readDB(r.db).WithContext(ctx)
	q := db.Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID)
	if !includeArchived {
		q = q.Where("cp.archived = ?", false)
	}

	var chats []*models.Chat
	if err := q.Preload("Participants").
		Order("chats.updated_at DESC").
		Order("chats.id DESC").
		Find(&chats).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	var lastIDs []uint
	for _, c := range chats {
		c.Hydrate()
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}
	if len(lastIDs) == 0 {
		return chats, nil
	}

	var last []models.Message
	if err := db.Where("id IN ?", lastIDs).Find(&last).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	byID := make(map[uint]*models.Message, len(last))
	for i := range last {
		byID[last[i].ID] = &last[i]
	}
	for _, c := range chats {
		if c.LastMessageID != nil {
			c.LastMessage = byID[*c.LastMessageID]
		}
	}
	return chats, nil
}

func rowsOrNotFound(res *gorm.DB, resource string, id uint) error {
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError(resource, id)
	}
	return nil
}
