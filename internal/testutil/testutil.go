// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/middleware"
	"marketplace/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestJWTSecret signs tokens minted in tests.
const TestJWTSecret = "test-secret-that-is-at-least-32-characters"

var dbSeq atomic.Uint64

// NewDB returns an isolated in-memory sqlite database with the chat schema.
// The pool holds a single connection, so callers must not query the outer
// handle while a transaction is open.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=1", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateUser inserts a user with name and avatar.
func CreateUser(t testing.TB, db *gorm.DB, name, avatar string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Avatar: avatar, Email: fmt.Sprintf("%s-%d@example.com", name, dbSeq.Add(1))}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateProduct inserts a product listed by sellerID.
func CreateProduct(t testing.TB, db *gorm.DB, sellerID uint, name string) *models.Product {
	t.Helper()
	p := &models.Product{SellerID: sellerID, Name: name, Image: "/img/" + name + ".png", Price: 10}
	require.NoError(t, db.Create(p).Error)
	return p
}

// Marketplace is a buyer, a seller and one of the seller's products.
type Marketplace struct {
	Buyer   *models.User
	Seller  *models.User
	Product *models.Product
}

// SeedMarketplace creates a buyer, a seller and a product.
func SeedMarketplace(t testing.TB, db *gorm.DB) Marketplace {
	t.Helper()
	buyer := CreateUser(t, db, "buyer", "/avatars/buyer.png")
	seller := CreateUser(t, db, "seller", "")
	product := CreateProduct(t, db, seller.ID, "bike")
	return Marketplace{Buyer: buyer, Seller: seller, Product: product}
}

// Config returns a test-profile configuration signing with TestJWTSecret.
func Config() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		JWTSecret:      TestJWTSecret,
		AllowedOrigins: "http://localhost:5173",
		FeatureFlags:   "chat_rest_broadcast=on",
		KafkaTopic:     "marketplace.chat.events",
	}
}

// Token mints a one-hour credential for userID.
func Token(t testing.TB, cfg *config.Config, userID uint) string {
	t.Helper()
	token, err := middleware.IssueToken(cfg, userID, time.Hour)
	require.NoError(t, err)
	return token
}
