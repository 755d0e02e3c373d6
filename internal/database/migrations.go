package database

import (
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.Event{},
		&models.Notification{},
	)
}
