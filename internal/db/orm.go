package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"psu-logger/internal/model"
)

// openORM opens a GORM SQLite connection with sane defaults.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.Run{}, &model.Measurement{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func insertRun(ctx context.Context, db *gorm.DB, r *model.Run) error {
	return db.WithContext(ctx).Create(r).Error
}

func insertMeasurement(ctx context.Context, db *gorm.DB, m *model.Measurement) error {
	return db.WithContext(ctx).Create(m).Error
}

// deleteRun removes a run and its measurements.
func deleteRun(ctx context.Context, db *gorm.DB, runID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&model.Measurement{}).Error; err != nil {
			return err
		}
		return tx.Where("run_id = ?", runID).Delete(&model.Run{}).Error
	})
}
