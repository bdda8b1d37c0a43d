package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Money columns hold integer cents.

// BeforeCreate assigns a uuid when none was set.
func (u *User) BeforeCreate(*gorm.DB) error { newID(&u.ID); return nil }

func (a *Account) BeforeCreate(*gorm.DB) error { newID(&a.ID); return nil }

func (i *Invoice) BeforeCreate(*gorm.DB) error { newID(&i.ID); return nil }

func (c *Contact) BeforeCreate(*gorm.DB) error { newID(&c.ID); return nil }

func (e *CashFlowEntry) BeforeCreate(*gorm.DB) error { newID(&e.ID); return nil }

func (r *Reconciliation) BeforeCreate(*gorm.DB) error { newID(&r.ID); return nil }
