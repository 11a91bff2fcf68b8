package service

import (
	"context"
	"log/slog"

	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/repository"
)

// Display fallbacks.
const (
	DefaultAvatar      = "/default-avatar.png"
	DeletedUserID      = "deleted-user"
	DeletedUserName    = "Usuario eliminado"
	FallbackSenderName = "Usuario"

	ProductUnavailableName = "Producto no disponible"
)

// DeletedUser is rendered in listings for accounts that no longer resolve.
func DeletedUser() models.DisplayUser {
	return models.DisplayUser{ID: DeletedUserID, Name: DeletedUserName, Avatar: DefaultAvatar}
}

// DisplayResolver turns identities into display data. A failed lookup never
// fails the caller; it yields the fallback it was given.
type DisplayResolver struct {
	users repository.UserRepository
}

// NewDisplayResolver returns a resolver backed by users.
func NewDisplayResolver(users repository.UserRepository) *DisplayResolver {
	return &DisplayResolver{users: users}
}

// Resolve looks up userID and renders it, using fallback when the account is
// missing or the lookup fails.
func (r *DisplayResolver) Resolve(ctx context.Context, userID uint, fallback models.DisplayUser) models.DisplayUser {
	if r == nil || r.users == nil || userID == 0 {
		return fallback
	}
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if !models.HasCode(err, models.CodeNotFound) {
			middleware.Logger.WarnContext(ctx, "display lookup failed",
				slog.Uint64("lookup_user_id", uint64(userID)),
				slog.String("error", err.Error()))
		}
		return fallback
	}

	out := models.DisplayUser{
		ID:     models.IdentityKey(user.ID),
		Name:   user.Name,
		Avatar: user.Avatar,
	}
	if out.Name == "" {
		out.Name = fallback.Name
	}
	if out.Avatar == "" {
		out.Avatar = DefaultAvatar
	}
	return out
}

// ForListing renders a message author or chat participant, falling back to
// the deleted-user placeholder.
func (r *DisplayResolver) ForListing(ctx context.Context, userID uint) models.DisplayUser {
	return r.Resolve(ctx, userID, DeletedUser())
}

// ForSender renders the author of a message being sent. The fallback keeps
// the caller's id so clients can still attribute the message.
func (r *DisplayResolver) ForSender(ctx context.Context, userID uint) models.DisplayUser {
	return r.Resolve(ctx, userID, models.DisplayUser{
		ID:     models.IdentityKey(userID),
		Name:   FallbackSenderName,
		Avatar: DefaultAvatar,
	})
}

// displayCache memoizes lookups for the lifetime of one listing.
type displayCache struct {
	r    *DisplayResolver
	seen map[uint]models.DisplayUser
}

func (r *DisplayResolver) newCache() *displayCache {
	return &displayCache{r: r, seen: make(map[uint]models.DisplayUser)}
}

func (c *displayCache) get(ctx context.Context, userID uint) models.DisplayUser {
	if d, ok := c.seen[userID]; ok {
		return d
	}
	d := c.r.ForListing(ctx, userID)
	c.seen[userID] = d
	return d
}
