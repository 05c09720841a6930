package db

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"Gin_postgres_redis_rent_tracker/models"
)

// Connect opens PostgreSQL for postgres:// DSNs and a SQLite file otherwise.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		zap.L().Info("connecting to PostgreSQL")
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "tracker.db"
	}
	zap.L().Info("using SQLite", zap.String("dsn", dsn))
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// ConnectDB connects and migrates.
func ConnectDB(dsn string) (*gorm.DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	zap.L().Info("database connected")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Credential{}, &models.Invite{}, &models.Equipment{}, &models.LedgerEntry{}); err != nil {
		return err
	}

	// 序列号非空时全表唯一
	if err := db.Exec(fmt.Sprintf(`
	  CREATE UNIQUE INDEX IF NOT EXISTS %s_serial_unique
	  ON %s (serial_number)
	  WHERE serial_number IS NOT NULL AND serial_number <> '';
	`, models.EquipmentTable, models.EquipmentTable)).Error; err != nil {
		return err
	}

	// 按操作人翻页查询流水
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_actor_id_desc
	  ON %s (actor_id, id DESC);
	`, models.LedgerTable, models.LedgerTable)).Error; err != nil {
		return err
	}

	return nil
}
