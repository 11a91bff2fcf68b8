package seed

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace/internal/cache"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"gorm.io/gorm"
)

// OfficialStoreEmail identifies the store account; seeding finds it by email.
const OfficialStoreEmail = "tienda@marketplace.local"

// Options configures the seeder.
type Options struct {
	Sellers           int
	Buyers            int
	ProductsPerSeller int
	ChatsPerBuyer     int
	// Password is shared by every seeded account.
	Password string
	// SkipBcrypt stores Password as is, for fast test runs.
	SkipBcrypt bool
	// RandomSeed makes the generated data reproducible; 0 picks a random one.
	RandomSeed int64
	// Clean removes chats, products and users before seeding.
	Clean bool
}

// DefaultOptions is the development preset.
func DefaultOptions() Options {
	return Options{
		Sellers:           6,
		Buyers:            10,
		ProductsPerSeller: 4,
		ChatsPerBuyer:     3,
		Password:          "password123",
	}
}

// Result summarizes what a run created.
type Result struct {
	Official *models.User
	Sellers  []*models.User
	Buyers   []*models.User
	Products []*models.Product
	Chats    int
	Replies  int
}

// Marketplace seeds an official store, individual sellers, their products
// and buyers with open chats. Chats go through the chat service, so their
// unread counters and last-message pointers are consistent. Running it again
// reuses the accounts and skips chats that already exist.
func Marketplace(ctx context.Context, db *gorm.DB, opts Options) (*Result, error) {
	if opts.Clean {
		if err := Clean(ctx, db); err != nil {
			return nil, err
		}
	}

	f, err := NewFactory(db, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	res.Official, err = f.CreateUser(ctx, func(u *models.User) {
		u.Name = "Tienda Oficial"
		u.Email = OfficialStoreEmail
		u.Avatar = "/store-profile.png"
	})
	if err != nil {
		return nil, err
	}

	sellers := []*models.User{res.Official}
	for i := 0; i < opts.Sellers; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return nil, err
		}
		res.Sellers = append(res.Sellers, u)
		sellers = append(sellers, u)
	}

	for _, seller := range sellers {
		for i := 0; i < opts.ProductsPerSeller; i++ {
			p, err := f.CreateProduct(ctx, seller)
			if err != nil {
				return nil, err
			}
			res.Products = append(res.Products, p)
		}
	}

	for i := 0; i < opts.Buyers; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return nil, err
		}
		res.Buyers = append(res.Buyers, u)
	}

	if err := openChats(ctx, db, f, res, opts.ChatsPerBuyer); err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "seed complete",
		slog.Int("sellers", len(sellers)),
		slog.Int("buyers", len(res.Buyers)),
		slog.Int("products", len(res.Products)),
		slog.Int("chats", res.Chats),
		slog.Int("replies", res.Replies))
	return res, nil
}

func openChats(ctx context.Context, db *gorm.DB, f *Factory, res *Result, perBuyer int) error {
	if len(res.Products) == 0 || perBuyer <= 0 {
		return nil
	}
	chats := service.NewChatService(service.ChatServiceDeps{
		Chats:    repository.NewChatRepository(db),
		Messages: repository.NewMessageRepository(db),
		Users:    repository.NewUserRepository(db),
		Products: repository.NewProductRepository(db),
	})

	for bi, buyer := range res.Buyers {
		for k := 0; k < perBuyer && k < len(res.Products); k++ {
			product := res.Products[(bi*perBuyer+k)%len(res.Products)]
			chat, _, err := chats.Initiate(ctx, service.InitiateInput{
				BuyerID:        buyer.ID,
				ProductID:      product.ID,
				SellerID:       product.SellerID,
				InitialMessage: f.Opener(product),
			})
			if models.HasCode(err, models.CodeConflict) {
				continue
			}
			if err != nil {
				return fmt.Errorf("open chat for buyer %d on product %d: %w", buyer.ID, product.ID, err)
			}
			res.Chats++

			// Every other chat gets an answer, leaving the buyer an unread message.
			if k%2 == 0 {
				if _, err := chats.Send(ctx, service.SendInput{
					ChatID:   chat.ID,
					SenderID: product.SellerID,
					Content:  f.Reply(),
				}); err != nil {
					return fmt.Errorf("reply in chat %d: %w", chat.ID, err)
				}
				res.Replies++
			}
		}
	}
	return nil
}

// Clean deletes all chat data, products and users, and drops their cached
// display and product entries so lookups see the deletion immediately.
func Clean(ctx context.Context, db *gorm.DB) error {
	var userIDs, productIDs []uint
	if err := db.WithContext(ctx).Unscoped().Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if err := db.WithContext(ctx).Unscoped().Model(&models.Product{}).Pluck("id", &productIDs).Error; err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&models.Message{}, &models.ChatParticipant{}, &models.Chat{}, &models.Product{}, &models.User{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(m).Error; err != nil {
				return fmt.Errorf("clean %T: %w", m, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range userIDs {
		cache.Invalidate(ctx, cache.UserKey(id))
	}
	for _, id := range productIDs {
		cache.Invalidate(ctx, cache.ProductKey(id))
	}
	return nil
}
