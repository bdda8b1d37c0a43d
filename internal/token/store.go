// Package token issues JWT access/refresh pairs and tracks which refresh
// tokens are still active.
package token

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid covers unknown, revoked, expired or mismatched refresh tokens.
var ErrInvalid = errors.New("invalid refresh token")

// Record is one issued refresh token.
type Record struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Store is the in-memory registry of refresh tokens.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*Record
	now    func() time.Time
}

// NewStore returns an empty refresh-token store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]*Record),
		now:    time.Now,
	}
}

// Add registers a new token for userID valid for ttl.
func (s *Store) Add(userID string, ttl time.Duration) Record {
	now := s.now()
	r := &Record{
		TokenID:   uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	s.mu.Lock()
	s.tokens[r.TokenID] = r
	s.mu.Unlock()
	return *r
}

// Validate succeeds only for a present, unrevoked, unexpired token owned by
// userID.
func (s *Store) Validate(tokenID, userID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tokens[tokenID]
	if !ok || r.UserID != userID || r.RevokedAt != nil || !s.now().Before(r.ExpiresAt) {
		return ErrInvalid
	}
	return nil
}

// Revoke marks tokenID revoked. It reports whether the token was active.
func (s *Store) Revoke(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tokens[tokenID]
	if !ok || r.RevokedAt != nil {
		return false
	}
	now := s.now()
	r.RevokedAt = &now
	return true
}

// RevokeUser revokes every active token of userID and returns the count.
func (s *Store) RevokeUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, r := range s.tokens {
		if r.UserID == userID && r.RevokedAt == nil {
			r.RevokedAt = &now
			n++
		}
	}
	return n
}

// Sweep drops expired and revoked tokens.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, r := range s.tokens {
		if r.RevokedAt != nil || !now.Before(r.ExpiresAt) {
			delete(s.tokens, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
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
			if n := s.Sweep(); n > 0 {
				slog.Debug("refresh tokens swept", "count", n)
			}
		}
	}
}
