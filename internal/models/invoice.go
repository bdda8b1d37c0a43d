package models

import "time"

// Invoice is an issued invoice. TotalCents = AmountCents - DiscountCents.
type Invoice struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        string    `gorm:"index;size:36;not null"`
	Number        string    `gorm:"size:64;not null"`
	ContactID     *string   `gorm:"size:36"`
	Description   string    `gorm:"size:255"`
	AmountCents   int64     `gorm:"not null"`
	DiscountCents int64     `gorm:"not null;default:0"`
	TotalCents    int64     `gorm:"not null"`
	IssueDate     time.Time `gorm:"not null"`
	DueDate       time.Time `gorm:"index;not null"`
	Status        string    `gorm:"size:16;index;not null;default:pending"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
