package db

import (
	"context"
	"errors"
	"fmt"

	"cyclecal/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrateDB creates the tables and seeds the admin account when the
// credentials are configured and the account does not exist yet.
func MigrateDB(ctx context.Context, db *gorm.DB, adminUser, adminPassword string, logger *zap.Logger) error {
	logger.Info("running database migrations")

	if err := db.AutoMigrate(&User{}, &model.Event{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if adminUser == "" || adminPassword == "" {
		logger.Warn("admin credentials not configured, skipping admin seed")
		return nil
	}

	users, err := NewUserRepository(db, logger)
	if err != nil {
		return err
	}
	if _, err := users.CreateUser(ctx, adminUser, adminPassword, UserTypeAdmin); err != nil {
		if errors.Is(err, ErrUserExists) {
			logger.Debug("admin user already present", zap.String("username", adminUser))
			return nil
		}
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	logger.Info("database migrations completed")
	return nil
}
