package database

import (
	"marketplace/internal/models"

	"gorm.io/gorm"
)

// PersistentModels returns the schema-managed gorm models in dependency order.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Product{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.Message{},
	}
}

// AutoMigrate runs gorm AutoMigrate over PersistentModels.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}
