package database

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"gorm.io/gorm"
)

// EnsureAdmin creates an administrator when no user with that name exists.
// It is a no-op when username or password is empty.
func EnsureAdmin(db *gorm.DB, username, password string, bcryptCost int) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}

	var existing models.User
	err := db.Where("LOWER(username) = LOWER(?)", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	hash, err := util.HashPassword(password, bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := models.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     "Administrator",
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	slog.Info("admin user created", "username", username)
	return nil
}
