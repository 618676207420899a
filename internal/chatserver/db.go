package chatserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/crewlink-app/crewlink/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from config.
func DSN(cfg config.DBConfig) string {
	cred := cfg.User
	if cfg.Password != "" {
		cred += ":" + cfg.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, cfg.Host, cfg.Port, cfg.Database)
}

// Connect opens a GORM connection per the configured driver.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("chatserver: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(DSN(cfg)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("chatserver: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("chatserver: unsupported db driver %q", cfg.Driver)
	}
}

// AllModels returns the GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Conversation{},
		&Participant{},
		&Message{},
	}
}

// AutoMigrate creates or updates all chat tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("chatserver: auto-migrate: %w", err)
	}
	return nil
}

// SeedUser creates a user with a fresh random API token, or returns the
// existing user for that email.
func SeedUser(db *gorm.DB, email, role, name string) (User, error) {
	var existing User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return existing, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return User{}, fmt.Errorf("chatserver: generate token: %w", err)
	}
	user := User{
		Email:     email,
		Role:      role,
		Name:      name,
		APIToken:  hex.EncodeToString(buf),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		return User{}, fmt.Errorf("chatserver: seed user %s: %w", email, err)
	}
	return user, nil
}
