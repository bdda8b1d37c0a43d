package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"smb-ledger/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testKey = "test-encryption-key-test-encryption-key"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMirror_SaveEncryptsDetailsAndLoadRoundTrips(t *testing.T) {
	db := setupTestDB(t)
	m := NewMirror(db, testKey)
	l := quietLog()

	e := l.Record(Event{
		Action:   ActionFinancialCreate,
		Resource: "accounts",
		UserID:   strPtr("u1"),
		Details:  map[string]interface{}{"amount": "150.00", "currency": "BRL"},
	})
	if err := m.Save(context.Background(), e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var row models.AuditLog
	if err := db.First(&row, "id = ?", e.ID).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.DetailsEnc == "" || strings.Contains(row.DetailsEnc, "150.00") {
		t.Fatalf("details not encrypted at rest: %q", row.DetailsEnc)
	}

	loaded, err := m.Load(context.Background(), 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d entries, want 1", len(loaded))
	}
	got := loaded[0]
	if got.Details["amount"] != "150.00" {
		t.Errorf("amount detail = %v", got.Details["amount"])
	}
	if !VerifyIntegrity(&got, nil) {
		t.Error("persisted entry no longer verifies")
	}
}

func TestMirror_RunDrainsOnCancel(t *testing.T) {
	db := setupTestDB(t)
	m := NewMirror(db, testKey)
	l := quietLog(WithSink(16))

	for i := 0; i < 3; i++ {
		l.Record(Event{Action: ActionLoginSuccess})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, l.Sink())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	var count int64
	db.Model(&models.AuditLog{}).Count(&count)
	if count != 3 {
		t.Fatalf("persisted %d rows, want 3", count)
	}
}
