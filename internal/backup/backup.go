// Package backup writes encrypted, retention-bounded snapshots of the store.
package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/config"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"gorm.io/gorm"
)

const (
	// FormatVersion is written into every backup document.
	FormatVersion = "1.0.0"
	// Redacted replaces password hashes in backups.
	Redacted = "[REDACTED]"

	filePrefix = "backup-"
	fileSuffix = ".json"
	nameLayout = "2006-01-02T15:04:05.000Z"
)

// ErrNotEncrypted is returned by Open for files without the encrypted envelope.
var ErrNotEncrypted = errors.New("backup file is not encrypted")

// UserRecord is a user as written to a backup. Password is always Redacted.
type UserRecord struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Password            string     `json:"password"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name"`
	Phone               string     `json:"phone"`
	Company             string     `json:"company"`
	Role                string     `json:"role"`
	IsActive            bool       `json:"is_active"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Snapshot holds every table included in a backup.
type Snapshot struct {
	Users           []UserRecord            `json:"users"`
	Accounts        []models.Account        `json:"accounts"`
	Invoices        []models.Invoice        `json:"invoices"`
	Contacts        []models.Contact        `json:"contacts"`
	CashFlow        []models.CashFlowEntry  `json:"cash_flow"`
	Reconciliations []models.Reconciliation `json:"reconciliations"`
}

// Document is the plaintext inside a backup file.
type Document struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      Snapshot  `json:"data"`
}

type envelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
}

// FileInfo describes one backup on disk.
type FileInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service creates backups on demand and on a schedule.
type Service struct {
	db         *gorm.DB
	encryptKey string
	dir        string
	maxBackups int
	interval   time.Duration

	audit   *audit.Log
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService builds a Service. log and m may be nil.
func NewService(db *gorm.DB, encryptKey string, cfg config.BackupConfig, log *audit.Log, m *metrics.Metrics) *Service {
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 10
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Service{
		db:         db,
		encryptKey: encryptKey,
		dir:        cfg.Dir,
		maxBackups: maxBackups,
		interval:   interval,
		audit:      log,
		metrics:    m,
		now:        time.Now,
	}
}

// Dir returns the backup directory.
func (s *Service) Dir() string { return s.dir }

// CreateBackup writes one encrypted snapshot and applies retention. It
// returns the file name relative to Dir.
func (s *Service) CreateBackup(ctx context.Context) (string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}

	ts := s.now().UTC()
	doc := Document{Version: FormatVersion, Timestamp: ts, Data: snap}
	raw, err := json.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	enc, err := util.EncryptAES(s.encryptKey, raw)
	if err != nil {
		return "", fmt.Errorf("encrypt backup: %w", err)
	}
	out, err := json.Marshal(envelope{Encrypted: true, Data: base64.StdEncoding.EncodeToString(enc)})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := fileName(ts)
	if err := os.WriteFile(filepath.Join(s.dir, name), out, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if err := s.prune(); err != nil {
		slog.Warn("backup retention failed", "error", err)
	}
	return name, nil
}

func fileName(ts time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(ts.UTC().Format(nameLayout))
	return filePrefix + stamp + fileSuffix
}

func (s *Service) snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		if err := tx.Order("created_at ASC").Find(&users).Error; err != nil {
			return fmt.Errorf("read users: %w", err)
		}
		snap.Users = make([]UserRecord, 0, len(users))
		for i := range users {
			snap.Users = append(snap.Users, redactUser(&users[i]))
		}

		reads := []struct {
			name string
			dest interface{}
		}{
			{"accounts", &snap.Accounts},
			{"invoices", &snap.Invoices},
			{"contacts", &snap.Contacts},
			{"cash flow", &snap.CashFlow},
			{"reconciliations", &snap.Reconciliations},
		}
		for _, r := range reads {
			if err := tx.Order("created_at ASC").Find(r.dest).Error; err != nil {
				return fmt.Errorf("read %s: %w", r.name, err)
			}
		}
		return nil
	})
	return snap, err
}

func redactUser(u *models.User) UserRecord {
	return UserRecord{
		ID:                  u.ID,
		Username:            u.Username,
		Password:            Redacted,
		Email:               u.Email,
		FullName:            u.FullName,
		Phone:               u.Phone,
		Company:             u.Company,
		Role:                u.Role,
		IsActive:            u.IsActive,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

// List returns the backups in Dir, newest first.
func (s *Service) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), CreatedAt: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Name > files[j].Name
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// prune deletes the oldest backups beyond maxBackups.
func (s *Service) prune() error {
	files, err := s.List()
	if err != nil {
		return err
	}
	if len(files) <= s.maxBackups {
		return nil
	}
	var errs []error
	for _, f := range files[s.maxBackups:] {
		if err := os.Remove(filepath.Join(s.dir, f.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		slog.Info("old backup removed", "file", f.Name)
	}
	return errors.Join(errs...)
}

// Open decrypts a backup file.
func Open(path, encryptKey string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse backup envelope: %w", err)
	}
	if !env.Encrypted {
		return nil, ErrNotEncrypted
	}
	enc, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	plain, err := util.DecryptAES(encryptKey, enc)
	if err != nil {
		return nil, fmt.Errorf("decrypt backup: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("parse backup document: %w", err)
	}
	return &doc, nil
}

// Trigger creates a backup and records the outcome in the logs, metrics and
// audit trail. userID and username attribute manual backups and are empty
// for scheduled ones.
func (s *Service) Trigger(ctx context.Context, userID, username string) (string, error) {
	start := time.Now()
	name, err := s.CreateBackup(ctx)
	elapsed := time.Since(start).Seconds()

	ev := audit.Event{Resource: "backup", IPAddress: "internal"}.WithUser(userID, username)
	if err != nil {
		slog.Error("backup failed", "error", err)
		s.metrics.BackupCompleted(metrics.StatusFailure, elapsed)
		if s.audit != nil {
			ev.Action = audit.ActionBackupFailed
			ev.Status = audit.StatusFailure
			s.audit.Record(ev.WithDetails(map[string]interface{}{"error": err.Error()}))
		}
		return "", err
	}

	slog.Info("backup created", "file", name, "duration_seconds", elapsed)
	s.metrics.BackupCompleted(metrics.StatusSuccess, elapsed)
	if s.audit != nil {
		ev.Action = audit.ActionBackupCreated
		ev.Status = audit.StatusSuccess
		s.audit.Record(ev.WithDetails(map[string]interface{}{"filename": name}))
	}
	return name, nil
}

// Run backs up once immediately and then every interval until ctx is done.
// Failures do not stop the schedule.
func (s *Service) Run(ctx context.Context) {
	_, _ = s.Trigger(ctx, "", "")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Trigger(ctx, "", "")
		}
	}
}
