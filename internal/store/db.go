package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/store/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database and migrates the schema.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dia gorm.Dialector
	switch cfg.Database.Type {
	case "pgsql":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.Database.Hostname, cfg.Database.User, cfg.Database.Password,
			cfg.Database.Name, cfg.Database.Port)
		dia = postgres.Open(dsn)
	default:
		dia = sqlite.Open(cfg.Database.Name + ".db")
	}

	db, err := gorm.Open(dia, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Type, err)
	}
	if cfg.Database.Type != "pgsql" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		// between the poller and request handlers.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("type", cfg.Database.Type).Str("name", cfg.Database.Name).Msg("database ready")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Instance{}, &model.User{})
}
