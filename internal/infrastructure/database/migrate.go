package database

import (
	"github.com/wekeepgrowing/timesync/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	err := db.AutoMigrate(
		&model.User{},
		&model.Mapping{},
		&model.TimeEntrySyncedObject{},
		&model.JobLog{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates indexes that GORM doesn't handle automatically
func createCustomIndexes(db *gorm.DB) error {
	// Containment lookups of a remote entry id inside the STEO list
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_teso_service_entries ON time_entry_synced_objects USING GIN (service_time_entry_objects jsonb_path_ops)`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_teso_active ON time_entry_synced_objects (user_id, date) WHERE archived = false`).Error; err != nil {
		return err
	}

	return nil
}
