// Package seed provides helpers to create demo data for the marketplace
// chat database. These helpers are intended for development and testing only.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Factory builds users and products and persists them to the database.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker

	// bcrypt is slow; every seeded account shares one password, so hash once.
	hashed string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) (*Factory, error) {
	f := &Factory{db: db, opts: opts, faker: gofakeit.New(opts.RandomSeed)}

	if opts.SkipBcrypt {
		f.hashed = opts.Password
		return f, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	f.hashed = string(hash)
	return f, nil
}

// CreateUser returns the user with the generated (or overridden) email,
// creating it when missing, so repeated seeding does not duplicate accounts.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	name := f.faker.FirstName()
	user := &models.User{
		Name:         name,
		Email:        strings.ToLower(fmt.Sprintf("%s.%s@example.com", name, f.faker.LetterN(6))),
		Avatar:       fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		PasswordHash: f.hashed,
	}
	for _, override := range overrides {
		override(user)
	}

	var existing models.User
	err := f.db.WithContext(ctx).Where("email = ?", user.Email).First(&existing).Error
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("find user %s: %w", user.Email, err)
	}

	if err := f.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Email, err)
	}
	return user, nil
}

// CreateProduct persists a product listed by seller.
func (f *Factory) CreateProduct(ctx context.Context, seller *models.User, overrides ...func(*models.Product)) (*models.Product, error) {
	product := &models.Product{
		SellerID: seller.ID,
		Name:     f.faker.ProductName(),
		Image:    fmt.Sprintf("https://picsum.photos/seed/%s/600/600", f.faker.UUID()),
		Price:    f.faker.Price(5, 1500),
	}
	for _, override := range overrides {
		override(product)
	}

	if err := f.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("create product %q: %w", product.Name, err)
	}
	return product, nil
}

// Opener returns a first message a buyer might send about product.
func (f *Factory) Opener(product *models.Product) string {
	openers := []string{
		"Hola! ¿Sigue disponible %s?",
		"Buenas, ¿hacés envíos de %s?",
		"¿Aceptás una oferta por %s?",
		"Hola, ¿%s tiene garantía?",
	}
	return fmt.Sprintf(openers[f.faker.Number(0, len(openers)-1)], product.Name)
}

// Reply returns a seller's answer.
func (f *Factory) Reply() string {
	replies := []string{
		"Sí, sigue disponible.",
		"Hola! Hago envíos a todo el país.",
		"Podemos charlarlo, ¿cuánto ofrecés?",
		"Tiene garantía de 6 meses.",
	}
	return replies[f.faker.Number(0, len(replies)-1)]
}
