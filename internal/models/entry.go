package models

import "time"

const (
	FlowIncome  = "income"
	FlowExpense = "expense"
)

// CashFlowEntry is one line of the cash-flow ledger. BalanceCents is the
// running balance after this entry.
type CashFlowEntry struct {
	ID           string    `gorm:"primaryKey;size:36"`
	UserID       string    `gorm:"index;size:36;not null"`
	Type         string    `gorm:"size:16;not null"` // income / expense
	Category     string    `gorm:"size:64"`
	Description  string    `gorm:"size:255"`
	AmountCents  int64     `gorm:"not null"`
	BalanceCents int64     `gorm:"not null"`
	Date         time.Time `gorm:"index;not null"`
	AccountID    *string   `gorm:"size:36"`
	CreatedAt    time.Time
}
