package models

import "time"

const (
	ReconciliationPending    = "pending"
	ReconciliationReconciled = "reconciled"
)

// Reconciliation compares a bank statement balance with the ledger for a period.
type Reconciliation struct {
	ID               string    `gorm:"primaryKey;size:36"`
	UserID           string    `gorm:"index;size:36;not null"`
	BankAccount      string    `gorm:"size:64;not null"`
	PeriodStart      time.Time `gorm:"not null"`
	PeriodEnd        time.Time `gorm:"not null"`
	StatementBalance int64     `gorm:"not null"`
	LedgerBalance    int64     `gorm:"not null"`
	DifferenceCents  int64     `gorm:"not null"`
	Status           string    `gorm:"size:16;not null;default:pending"`
	Notes            string    `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
