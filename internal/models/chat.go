// Package models contains the persisted entities and API payload shapes of the
// marketplace chat service.
package models

import (
	"strconv"
	"time"
)

// ParticipantRole tags a chat participant as the buyer or the seller.
type ParticipantRole string

const (
	RoleBuyer  ParticipantRole = "buyer"
	RoleSeller ParticipantRole = "seller"
)

// MaxMessageLength is the upper bound on trimmed message content, in characters.
const MaxMessageLength = 2000

// Chat is the thread between one buyer and one seller about one product.
// At most one chat exists per (product, buyer, seller).
type Chat struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProductID     uint      `gorm:"not null;uniqueIndex:idx_chats_product_buyer_seller" json:"productId"`
	BuyerID       uint      `gorm:"not null;uniqueIndex:idx_chats_product_buyer_seller" json:"buyerId"`
	SellerID      uint      `gorm:"not null;uniqueIndex:idx_chats_product_buyer_seller" json:"sellerId"`
	LastMessageID *uint     `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `gorm:"index" json:"updatedAt"`

	Participants []ChatParticipant `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`

	// Per-identity views over Participants, keyed by the identity as a string.
	UnreadCount map[string]int  `gorm:"-" json:"unreadCount"`
	Archived    map[string]bool `gorm:"-" json:"archived"`

	LastMessage *Message `gorm:"-" json:"lastMessage,omitempty"`
}

// ChatParticipant holds one participant's counters for a chat.
type ChatParticipant struct {
	ChatID      uint            `gorm:"primaryKey;autoIncrement:false" json:"chatId"`
	UserID      uint            `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	Role        ParticipantRole `gorm:"type:varchar(10);not null" json:"role"`
	UnreadCount int             `gorm:"not null;default:0" json:"unreadCount"`
	Archived    bool            `gorm:"not null;default:false" json:"archived"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Message is an append-only chat entry. CreatedAt orders a chat's messages.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    uint      `gorm:"not null;index:idx_messages_chat_created,priority:1" json:"chatId"`
	SenderID  uint      `gorm:"not null;index" json:"senderId"`
	Content   string    `gorm:"type:varchar(2000);not null" json:"content"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `gorm:"index:idx_messages_chat_created,priority:2" json:"createdAt"`

	Sender *DisplayUser `gorm:"-" json:"sender,omitempty"`
}

// IdentityKey renders an identity the way the per-participant maps key it.
func IdentityKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// IsParticipant reports whether userID is the buyer or the seller.
func (c *Chat) IsParticipant(userID uint) bool {
	return userID != 0 && (c.BuyerID == userID || c.SellerID == userID)
}

// Counterpart returns the other participant of userID.
func (c *Chat) Counterpart(userID uint) (uint, bool) {
	switch userID {
	case c.BuyerID:
		return c.SellerID, true
	case c.SellerID:
		return c.BuyerID, true
	}
	return 0, false
}

// Hydrate fills UnreadCount and Archived from the participant rows.
func (c *Chat) Hydrate() {
	c.UnreadCount = make(map[string]int, len(c.Participants))
	c.Archived = make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		key := IdentityKey(p.UserID)
		c.UnreadCount[key] = p.UnreadCount
		c.Archived[key] = p.Archived
	}
}

// UnreadFor returns userID's unread counter, zero when unknown.
func (c *Chat) UnreadFor(userID uint) int {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p.UnreadCount
		}
	}
	return 0
}
