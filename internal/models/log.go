package models

import "time"

// AuditLog mirrors one entry of the in-memory audit chain.
// Details are stored encrypted (AES-GCM, base64).
type AuditLog struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Seq        int64     `gorm:"index"`
	Timestamp  time.Time `gorm:"column:recorded_at;index;not null"`
	UserID     *string   `gorm:"index;size:36"`
	Username   *string   `gorm:"size:64"`
	Action     string    `gorm:"index;size:64;not null"`
	Resource   string    `gorm:"size:255"`
	ResourceID *string   `gorm:"size:64"`
	IPAddress  string    `gorm:"size:64"`
	UserAgent  *string   `gorm:"size:255"`
	Status     string    `gorm:"size:16;not null"`
	DetailsEnc string    `gorm:"type:text"`
	PrevHash   string    `gorm:"size:64;not null"`
	Hash       string    `gorm:"size:64;not null"`
}
