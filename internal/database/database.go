// Package database wires the gorm/postgres connection the way the
// teacher's distribution_service/src/database/connection.go does:
// a single pooled *gorm.DB, AutoMigrate over the owned models, and a
// package-level accessor used by the repositories.
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

var db *gorm.DB

// Connect opens the pooled connection to dsn (DATABASE_URL).
func Connect(dsn string) error {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db = conn
	log.Println("database connected")
	return nil
}

// AutoMigrate runs migrations for every model this repository owns.
func AutoMigrate() error {
	if db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	return db.AutoMigrate(
		&models.PersistedProduct{},
		&models.ExchangeRate{},
		&models.Post{},
		&models.Invoice{},
		&models.Setting{},
	)
}

// DB returns the shared connection.
func DB() *gorm.DB { return db }

// Close releases the underlying connection pool.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck pings the database.
func HealthCheck() error {
	if db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
