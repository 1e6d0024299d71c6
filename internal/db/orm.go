package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"rpiweatherd/internal/model"
)

// openORM opens a GORM connection on the pure-Go sqlite driver.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.DataRow{}, &model.StatRow{})
}

// seedStats inserts the counters that are missing, leaving existing values alone.
func seedStats(db *gorm.DB) error {
	rows := make([]model.StatRow, 0, len(Counters))
	for _, c := range Counters {
		rows = append(rows, model.StatRow{Name: c.Name, DisplayName: c.DisplayName})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func insertEntry(ctx context.Context, db *gorm.DB, row *model.DataRow) error {
	return db.WithContext(ctx).Create(row).Error
}

func incrementStat(ctx context.Context, db *gorm.DB, name string) error {
	return db.WithContext(ctx).
		Model(&model.StatRow{}).
		Where("name = ?", name).
		UpdateColumn("value", gorm.Expr("value + ?", 1)).Error
}
