package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"smb-ledger/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "session-secret-session-secret-session"

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db, testSecret, time.Hour)
}

func TestCreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.ID) != 64 {
		t.Errorf("session id length = %d, want 64 hex chars", len(sess.ID))
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}
}

func TestGet_DestroyedIsNotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sess, _ := s.Create(ctx, "user-1")
	if err := s.Destroy(ctx, sess.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Destroy = %v, want ErrNotFound", err)
	}
}

func TestGet_ExpiredIsNotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sess, _ := s.Create(ctx, "user-1")
	now = now.Add(time.Hour)

	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get at expiry = %v, want ErrNotFound", err)
	}
}

func TestSweep(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old, _ := s.Create(ctx, "user-1")
	now = now.Add(30 * time.Minute)
	fresh, _ := s.Create(ctx, "user-2")
	now = now.Add(45 * time.Minute)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("expired session survived sweep")
	}
	if _, err := s.Get(ctx, fresh.ID); err != nil {
		t.Errorf("live session removed by sweep: %v", err)
	}
}

func TestDestroyForUser_KeepsCurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, "user-1")
	b, _ := s.Create(ctx, "user-1")
	other, _ := s.Create(ctx, "user-2")

	if err := s.DestroyForUser(ctx, "user-1", a.ID); err != nil {
		t.Fatalf("DestroyForUser: %v", err)
	}
	if _, err := s.Get(ctx, a.ID); err != nil {
		t.Error("kept session was destroyed")
	}
	if _, err := s.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Error("other session of the user survived")
	}
	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Error("session of another user was destroyed")
	}
}

func TestSetCSRFToken(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sess, _ := s.Create(ctx, "user-1")
	if err := s.SetCSRFToken(ctx, sess.ID, "tok"); err != nil {
		t.Fatalf("SetCSRFToken: %v", err)
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.CSRFToken != "tok" {
		t.Errorf("CSRFToken = %q, want tok", got.CSRFToken)
	}
	if err := s.SetCSRFToken(ctx, "missing", "tok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetCSRFToken on unknown session = %v, want ErrNotFound", err)
	}
}

func TestSignUnsign(t *testing.T) {
	s := setupStore(t)

	signed := s.Sign("abc123")
	id, ok := s.Unsign(signed)
	if !ok || id != "abc123" {
		t.Fatalf("Unsign(Sign) = %q, %v", id, ok)
	}

	bad := []string{"", "abc123", "abc123.", ".sig", "abc124" + signed[len("abc123"):], signed + "0"}
	for _, v := range bad {
		if _, ok := s.Unsign(v); ok {
			t.Errorf("Unsign(%q) accepted a forged value", v)
		}
	}

	other := NewStore(nil, "another-secret-another-secret-xxxx", time.Hour)
	if _, ok := other.Unsign(signed); ok {
		t.Error("cookie signed with another secret was accepted")
	}
}
