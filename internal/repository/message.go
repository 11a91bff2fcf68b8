package repository

import (
	"context"
	"strings"
	"unicode/utf8"

	"marketplace/internal/models"
	"marketplace/internal/observability"

	"gorm.io/gorm"
)

// DefaultMessagePage is the default and maximum number of messages ListByChat returns.
const DefaultMessagePage = 50

// MessageRepository is the message store.
type MessageRepository interface {
	Append(ctx context.Context, chatID, senderID uint, content string) (*models.Message, error)
	ListByChat(ctx context.Context, chatID uint, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, chatID, readerID uint) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository returns the gorm-backed MessageRepository.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// NormalizeContent trims content and checks it is 1 to MaxMessageLength characters.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", models.NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(trimmed) > models.MaxMessageLength {
		return "", models.NewValidationError("Message content must be at most 2000 characters")
	}
	return trimmed, nil
}

func (r *messageRepository) Append(ctx context.Context, chatID, senderID uint, content string) (*models.Message, error) {
	defer observability.TrackQuery("append", "messages")()

	trimmed, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{ChatID: chatID, SenderID: senderID, Content: trimmed}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msg, nil
}

// ListByChat returns the newest limit messages of the chat, oldest first.
// limit is clamped to DefaultMessagePage.
func (r *messageRepository) ListByChat(ctx context.Context, chatID uint, limit int) ([]*models.Message, error) {
	defer observability.TrackQuery("list_by_chat", "messages")()

	if limit <= 0 || limit > DefaultMessagePage {
		limit = DefaultMessagePage
	}

	var messages []*models.Message
	err := readDB(r.db).WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead flags every unread message the reader did not author and reports
// how many rows changed. Calling it again is a no-op.
func (r *messageRepository) MarkRead(ctx context.Context, chatID, readerID uint) (int64, error) {
	defer observability.TrackQuery("mark_read", "messages")()

	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND read = ?", chatID, readerID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
