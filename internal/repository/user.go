package repository

import (
	"context"
	"errors"

	"marketplace/internal/cache"
	"marketplace/internal/models"
	"marketplace/internal/observability"

	"gorm.io/gorm"
)

// UserRepository is the profile lookup used for display data.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a cache-aside UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, func() error {
		defer observability.TrackQuery("get_by_id", "users")()
		if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("User", id)
			}
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ProductRepository is the catalog lookup.
type ProductRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository returns a cache-aside ProductRepository.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	err := cache.Aside(ctx, cache.ProductKey(id), &product, cache.ProductTTL, func() error {
		defer observability.TrackQuery("get_by_id", "products")()
		if err := readDB(r.db).WithContext(ctx).First(&product, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Product", id)
			}
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}
