package models

import "time"

const (
	AccountReceivable = "receivable"
	AccountPayable    = "payable"

	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

// Account is an account payable or receivable.
type Account struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      string    `gorm:"index;size:36;not null"`
	Type        string    `gorm:"size:16;index;not null"`
	Description string    `gorm:"size:255;not null"`
	AmountCents int64     `gorm:"not null"`
	DueDate     time.Time `gorm:"index;not null"`
	PaidAt      *time.Time
	Status      string  `gorm:"size:16;index;not null;default:pending"`
	Category    string  `gorm:"size:64;index"`
	ContactID   *string `gorm:"size:36"`
	Notes       string  `gorm:"type:text"`
	Attachment  string  `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
