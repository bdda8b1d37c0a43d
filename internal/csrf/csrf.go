// Package csrf issues and verifies per-session anti-forgery tokens.
package csrf

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"

	"smb-ledger/internal/util"
)

// HeaderName carries the token in both directions.
const HeaderName = "X-CSRF-Token"

// Service hashes tokens with a server secret before comparing them.
type Service struct {
	secret []byte
}

// NewService uses csrfSecret when set, otherwise a key derived from the
// session secret.
func NewService(csrfSecret, sessionSecret string) (*Service, error) {
	if csrfSecret != "" {
		return &Service{secret: []byte(csrfSecret)}, nil
	}
	key, err := util.DeriveKey(sessionSecret, util.InfoCSRF)
	if err != nil {
		return nil, fmt.Errorf("derive csrf secret: %w", err)
	}
	return &Service{secret: key}, nil
}

// Generate returns 32 random bytes, hex encoded.
func (s *Service) Generate() (string, error) {
	return util.RandomHex(32)
}

// Hash returns hex(HMAC-SHA256(secret, token)).
func (s *Service) Hash(token string) string {
	return util.HMACSHA256Hex(s.secret, token)
}

// Verify compares digests of both tokens in constant time. Either token
// being empty fails.
func (s *Service) Verify(presented, sessionToken string) bool {
	if presented == "" || sessionToken == "" {
		return false
	}
	a, err := hex.DecodeString(s.Hash(sessionToken))
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(s.Hash(presented))
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}
