package repository

import (
	"context"
	"regexp"
	"testing"

	"marketplace/internal/cache"
	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		userID       uint
		mockBehavior func()
		expected     *models.User
		expectedCode string
	}{
		{
			name:   "Success",
			userID: 1,
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "name", "avatar"}).AddRow(1, "Ana", "/a.png")
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 AND "users"."deleted_at" IS NULL ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(1, 1).
					WillReturnRows(rows)
			},
			expected: &models.User{ID: 1, Name: "Ana", Avatar: "/a.png"},
		},
		{
			name:   "Not Found",
			userID: 99,
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 AND "users"."deleted_at" IS NULL ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(99, 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
			expectedCode: models.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, tt.userID)
			if tt.expectedCode != "" {
				assert.True(t, models.HasCode(err, tt.expectedCode))
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected.Name, user.Name)
				assert.Equal(t, tt.expected.Avatar, user.Avatar)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLookups_AreCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewClient(mr.Addr())
	require.NoError(t, err)
	cache.SetClient(c)
	t.Cleanup(func() { _ = cache.Close() })

	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)
	users := NewUserRepository(db)
	products := NewProductRepository(db)
	ctx := context.Background()

	u, err := users.GetByID(ctx, m.Buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer", u.Name)
	assert.True(t, mr.Exists(cache.UserKey(m.Buyer.ID)))

	// Served from Redis even after the row is gone.
	require.NoError(t, db.Unscoped().Delete(&models.User{}, m.Buyer.ID).Error)
	u, err = users.GetByID(ctx, m.Buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer", u.Name)

	p, err := products.GetByID(ctx, m.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, "bike", p.Name)
	assert.True(t, mr.Exists(cache.ProductKey(m.Product.ID)))

	_, err = products.GetByID(ctx, 4242)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.False(t, mr.Exists(cache.ProductKey(4242)))
}
