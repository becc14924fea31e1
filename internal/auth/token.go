// Package auth issues and verifies the bearer credentials that gate both the
// REST surface and the websocket handshake.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// malformed claims. Callers never learn which, only that the credential is no
// good.
var ErrInvalidToken = errors.New("auth: invalid token")

// CredentialVerifier resolves a bearer credential to a user identity.
type CredentialVerifier interface {
	VerifyCredential(token string) (int64, error)
}

// Manager signs and verifies HS256 tokens whose subject is the user id.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ CredentialVerifier = (*Manager)(nil)

// NewManager creates a token manager with the given signing secret and
// lifetime.
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a signed token for the user.
func (m *Manager) Issue(userID int64) (string, error) {
	now := m.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyCredential validates the token and returns the user id it carries.
func (m *Manager) VerifyCredential(tokenStr string) (int64, error) {
	if tokenStr == "" {
		return 0, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
