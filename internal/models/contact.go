package models

import "time"

const (
	ContactCustomer = "customer"
	ContactSupplier = "supplier"
)

// Contact is a customer or supplier. TaxIDEnc is AES-GCM encrypted.
type Contact struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index;size:36;not null"`
	Type      string `gorm:"size:16;index;not null"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"size:254"`
	Phone     string `gorm:"size:32"`
	TaxIDEnc  string `gorm:"column:tax_id;type:text"`
	Address   string `gorm:"size:255"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
