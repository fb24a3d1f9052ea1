package db

import (
	"time"

	"cropsight/config"
	"cropsight/internal/core/models"

	"github.com/glebarez/sqlite" // pure Go sqlite driver
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// Open connects to the SQLite database and runs migrations
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)
	database, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Running database migrations...")
	if err := database.AutoMigrate(
		&models.User{},
		&models.Farm{},
		&models.Request{},
		&models.RequestImage{},
	); err != nil {
		return nil, err
	}
	log.Info("Database migrations completed.")

	return database, nil
}
