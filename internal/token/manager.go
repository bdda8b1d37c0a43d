package token

import (
	"fmt"
	"time"

	"smb-ledger/internal/util"
)

// Pair is returned to the client on login and refresh.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Subject is the identity a pair is issued for.
type Subject struct {
	UserID   string
	Username string
	Role     string
}

// Manager signs tokens and consults Store for refresh validity.
type Manager struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Store         *Store
}

// NewManager signs access and refresh tokens with separate secrets and
// tracks refresh tokens in store.
func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, store *Store) *Manager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Store:         store,
	}
}

// Issue creates a new access/refresh pair.
func (m *Manager) Issue(sub Subject) (Pair, error) {
	access, err := util.GenerateAccessToken(m.AccessSecret, sub.UserID, sub.Username, sub.Role, m.AccessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	rec := m.Store.Add(sub.UserID, m.RefreshTTL)
	refresh, err := util.GenerateRefreshToken(m.RefreshSecret, sub.UserID, rec.TokenID, rec.ExpiresAt)
	if err != nil {
		m.Store.Revoke(rec.TokenID)
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(m.AccessTTL),
	}, nil
}

// ParseAccess validates an access token.
func (m *Manager) ParseAccess(tokenStr string) (*util.Claims, error) {
	return util.ParseToken(m.AccessSecret, tokenStr)
}

// ParseRefresh validates signature, expiry and store state of a refresh
// token and returns its claims.
func (m *Manager) ParseRefresh(tokenStr string) (*util.Claims, error) {
	claims, err := util.ParseToken(m.RefreshSecret, tokenStr)
	if err != nil {
		return nil, ErrInvalid
	}
	if err := m.Store.Validate(claims.TokenID(), claims.UserID); err != nil {
		return nil, err
	}
	return claims, nil
}

// Rotate revokes the presented refresh token and issues a new pair for sub.
// sub.UserID must match the token owner.
func (m *Manager) Rotate(refreshToken string, sub Subject) (Pair, error) {
	claims, err := m.ParseRefresh(refreshToken)
	if err != nil {
		return Pair{}, err
	}
	if claims.UserID != sub.UserID {
		return Pair{}, ErrInvalid
	}
	if !m.Store.Revoke(claims.TokenID()) {
		return Pair{}, ErrInvalid
	}
	return m.Issue(sub)
}

// Revoke revokes a refresh token string. Invalid tokens are ignored.
func (m *Manager) Revoke(refreshToken string) {
	claims, err := util.ParseToken(m.RefreshSecret, refreshToken)
	if err != nil {
		return
	}
	m.Store.Revoke(claims.TokenID())
}

// RevokeUser revokes every refresh token of userID.
func (m *Manager) RevokeUser(userID string) int {
	return m.Store.RevokeUser(userID)
}
