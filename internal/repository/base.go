package repository

import (
	"errors"
	"strings"

	"marketplace/internal/database"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// readDB routes reads to the replica when one is connected. Repositories
// built over their own handle (tests, commands) keep reading from it.
func readDB(primary *gorm.DB) *gorm.DB {
	if replica := database.GetReadDB(); replica != nil && replica != database.DB {
		return replica
	}
	return primary
}

// isUniqueViolation recognises duplicate-key failures from any supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
