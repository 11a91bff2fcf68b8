package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the subset of a marketplace account this service reads for display.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"size:120" json:"name"`
	Email        string         `gorm:"size:255;index" json:"email,omitempty"`
	Avatar       string         `gorm:"size:512" json:"avatar"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Product is the catalog item a chat refers to.
type Product struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	SellerID  uint           `gorm:"index" json:"sellerId"`
	Name      string         `gorm:"size:120;not null" json:"name"`
	Image     string         `gorm:"size:512" json:"image"`
	Price     float64        `json:"price"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// DisplayUser is the minimal identity rendering attached to messages and chat lists.
type DisplayUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ProductSummary is the product rendering attached to chat lists.
type ProductSummary struct {
	ID    uint    `json:"id"`
	Name  string  `json:"name"`
	Image string  `json:"image"`
	Price float64 `json:"price"`
}

// ProductRef identifies the product of a chat header, without pricing.
type ProductRef struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Ref drops the listing-only fields of p.
func (p ProductSummary) Ref() ProductRef {
	return ProductRef{ID: p.ID, Name: p.Name, Image: p.Image}
}

// ParticipantsView pairs the display identities of both participants.
type ParticipantsView struct {
	Buyer  DisplayUser `json:"buyer"`
	Seller DisplayUser `json:"seller"`
}

// LastMessageView is the last-message preview of a chat summary.
type LastMessageView struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	ID           uint             `json:"id"`
	UnreadCount  map[string]int   `json:"unreadCount"`
	Archived     map[string]bool  `json:"archived"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	LastMessage  *LastMessageView `json:"lastMessage,omitempty"`
	Participants ParticipantsView `json:"participants"`
	Product      ProductSummary   `json:"product"`
}

// ChatInfo is the participant and product header of a single chat.
type ChatInfo struct {
	Product      ProductRef       `json:"product"`
	Participants ParticipantsView `json:"participants"`
}
