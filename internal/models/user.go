package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an application user.
type User struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	Username     string `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"column:password;size:255;not null" json:"-"`
	Email        string `gorm:"size:254" json:"email"`
	FullName     string `gorm:"size:128" json:"full_name"`
	Phone        string `gorm:"size:32" json:"phone"`
	Company      string `gorm:"size:128" json:"company"`
	Role         string `gorm:"size:16;not null;default:user" json:"role"`
	IsActive     bool   `gorm:"not null" json:"is_active"`

	FailedLoginAttempts int        `gorm:"default:0" json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP         string     `gorm:"size:64" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
