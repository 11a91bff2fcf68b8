package repository

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return gormDB, mock
}

func newChat(t *testing.T, repo ChatRepository, m testutil.Marketplace) *models.Chat {
	t.Helper()
	chat := &models.Chat{ProductID: m.Product.ID, BuyerID: m.Buyer.ID, SellerID: m.Seller.ID}
	require.NoError(t, repo.CreateWithParticipants(context.Background(), chat))
	return chat
}

func TestChatRepository_CreateWithParticipants(t *testing.T) {
	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat := newChat(t, repo, m)
	require.NotZero(t, chat.ID)
	assert.Equal(t, 0, chat.UnreadFor(m.Buyer.ID))
	assert.Equal(t, 1, chat.UnreadFor(m.Seller.ID))

	var rows []models.ChatParticipant
	require.NoError(t, db.Where("chat_id = ?", chat.ID).Order("user_id").Find(&rows).Error)
	require.Len(t, rows, 2)

	found, err := repo.FindExisting(ctx, m.Product.ID, m.Buyer.ID, m.Seller.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, chat.ID, found.ID)

	missing, err := repo.FindExisting(ctx, m.Product.ID, m.Seller.ID, m.Buyer.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	t.Run("duplicate triple is a conflict with the winner's id", func(t *testing.T) {
		dup := &models.Chat{ProductID: m.Product.ID, BuyerID: m.Buyer.ID, SellerID: m.Seller.ID}
		err := repo.CreateWithParticipants(ctx, dup)
		require.Error(t, err)
		assert.True(t, models.HasCode(err, models.CodeConflict))
		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, chat.ID, appErr.ChatID)

		var count int64
		require.NoError(t, db.Model(&models.Chat{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestChatRepository_GetForParticipant(t *testing.T) {
	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)
	repo := NewChatRepository(db)
	chat := newChat(t, repo, m)
	ctx := context.Background()

	got, err := repo.GetForParticipant(ctx, chat.ID, m.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.IdentityKey(m.Buyer.ID): 0, models.IdentityKey(m.Seller.ID): 1}, got.UnreadCount)

	_, err = repo.GetForParticipant(ctx, chat.ID, 9999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = repo.GetByID(ctx, 424242)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestChatRepository_UnreadCounters(t *testing.T) {
	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)
	repo := NewChatRepository(db)
	chat := newChat(t, repo, m)
	ctx := context.Background()

	const sends = 20
	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementUnread(ctx, chat.ID, m.Buyer.ID))
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, sends, got.UnreadFor(m.Buyer.ID))
	assert.Equal(t, 1, got.UnreadFor(m.Seller.ID), "the other counter is untouched")

	require.NoError(t, repo.ResetUnread(ctx, chat.ID, m.Buyer.ID))
	got, err = repo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadFor(m.Buyer.ID))
	assert.Equal(t, 1, got.UnreadFor(m.Seller.ID))

	err = repo.IncrementUnread(ctx, chat.ID, 9999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestChatRepository_IncrementUnreadIsStorageSide(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewChatRepository(db)

	mock.ExpectExec(`UPDATE "chat_participants" SET "unread_count"=unread_count \+ \$1,"updated_at"=\$2 WHERE chat_id = \$3 AND user_id = \$4`).
		WithArgs(1, sqlmock.AnyArg(), 7, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementUnread(context.Background(), 7, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepository_CreateMapsPostgresUniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewChatRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "chats"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_chats_product_buyer_seller"})
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chats" WHERE product_id = $1 AND buyer_id = $2 AND seller_id = $3 LIMIT $4`)).
		WithArgs(5, 1, 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "buyer_id", "seller_id"}).AddRow(77, 5, 1, 2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_participants" WHERE "chat_participants"."chat_id" = $1`)).
		WithArgs(77).
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "user_id", "role"}))

	err := repo.CreateWithParticipants(context.Background(), &models.Chat{ProductID: 5, BuyerID: 1, SellerID: 2})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeConflict, appErr.Code)
	assert.Equal(t, uint(77), appErr.ChatID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepository_ListForUser(t *testing.T) {
	db := testutil.NewDB(t)
	m := testutil.SeedMarketplace(t, db)
	chats := NewChatRepository(db)
	messages := NewMessageRepository(db)
	ctx := context.Background()

	first := newChat(t, chats, m)
	other := testutil.CreateProduct(t, db, m.Seller.ID, "lamp")
	second := newChat(t, chats, testutil.Marketplace{Buyer: m.Buyer, Seller: m.Seller, Product: other})

	msg, err := messages.Append(ctx, first.ID, m.Buyer.ID, "hello there")
	require.NoError(t, err)
	require.NoError(t, chats.SetLastMessage(ctx, first.ID, msg.ID))

	list, err := chats.ListForUser(ctx, m.Buyer.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "most recently updated first")
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hello there", list[0].LastMessage.Content)
	assert.Nil(t, list[1].LastMessage)

	require.NoError(t, chats.SetArchived(ctx, second.ID, m.Buyer.ID, true))
	list, err = chats.ListForUser(ctx, m.Buyer.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	sellerList, err := chats.ListForUser(ctx, m.Seller.ID, false)
	require.NoError(t, err)
	assert.Len(t, sellerList, 2, "archiving is per participant")

	all, err := chats.ListForUser(ctx, m.Buyer.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stranger, err := chats.ListForUser(ctx, 9999, true)
	require.NoError(t, err)
	assert.Empty(t, stranger)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: chats.product_id")))
	assert.False(t, isUniqueViolation(assert.AnError))
	assert.False(t, isUniqueViolation(nil))
}
