package db

import (
	"fmt"

	"github.com/zulandar/quotescout/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the archive models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.SearchRecord{},
		&models.SearchWorker{},
		&models.SearchContractor{},
	}
}

// AutoMigrate creates or updates all archive tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
