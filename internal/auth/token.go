package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no access token available")
	ErrTokenExpired = errors.New("access token expired")
)

// TokenSource supplies the current bearer credential. Token returns an error
// when no usable credential is available; callers fail fast without a network
// attempt.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to the TokenSource interface
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) {
	return f()
}

// Manager holds the access token for the signed-in user. It checks expiry
// locally from the JWT claims so a dead credential is rejected before any
// connect attempt; signature verification is the server's job.
type Manager struct {
	mu    sync.RWMutex
	token string
}

func NewManager() *Manager {
	return &Manager{}
}

// SetToken replaces the stored credential
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Clear drops the stored credential
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
}

// Token returns the stored credential or an error when it is absent or
// already expired
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	if token == "" {
		return "", ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("malformed access token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("invalid token claims: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return "", ErrTokenExpired
	}
	return token, nil
}
