// Package session stores login sessions server-side and signs the cookie
// that refers to them.
package session

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown, expired or destroyed sessions.
var ErrNotFound = errors.New("session not found")

// DefaultMaxAge is the absolute session lifetime.
const DefaultMaxAge = 7 * 24 * time.Hour

// Store persists sessions in the sessions table.
type Store struct {
	db     *gorm.DB
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewStore signs cookie values with secret; sessions live for maxAge.
func NewStore(db *gorm.DB, secret string, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		db:     db,
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// MaxAge returns the configured lifetime.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Create starts a new session for userID with a random 32-byte id.
func (s *Store) Create(ctx context.Context, userID string) (*models.Session, error) {
	id, err := util.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now()
	sess := &models.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(s.maxAge),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get loads a live session. Expired sessions are deleted and reported as
// ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var sess models.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.Destroy(ctx, id)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Destroy deletes the session. Destroying an unknown id is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// DestroyForUser deletes every session of userID except keepID.
func (s *Store) DestroyForUser(ctx context.Context, userID, keepID string) error {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if keepID != "" {
		q = q.Where("id <> ?", keepID)
	}
	if err := q.Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("destroy user sessions: %w", err)
	}
	return nil
}

// SetCSRFToken stores the CSRF token bound to the session.
func (s *Store) SetCSRFToken(ctx context.Context, id, token string) error {
	res := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Update("csrf_token", token)
	if res.Error != nil {
		return fmt.Errorf("set csrf token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// Sign returns the cookie value "id.signature".
func (s *Store) Sign(id string) string {
	return id + "." + util.HMACSHA256Hex(s.secret, id)
}

// Unsign verifies a cookie value and returns the session id.
func (s *Store) Unsign(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", false
	}
	id, sig := value[:i], value[i+1:]
	want := util.HMACSHA256Hex(s.secret, id)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return id, true
}
