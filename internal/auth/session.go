package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// Session identifies the user a request acts for. It is passed explicitly to
// the services that need it.
type Session struct {
	Token     string    `json:"token" db:"token"`
	UserID    string    `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Issue mints a new session for userID that expires after ttl.
func Issue(userID string, ttl time.Duration, now time.Time) Session {
	return Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl).UTC().Truncate(time.Second),
	}
}

// Valid reports whether the session belongs to a user and has not expired at now.
func (s Session) Valid(now time.Time) bool {
	return s.UserID != "" && now.Before(s.ExpiresAt)
}

// SessionStore looks sessions up by token.
type SessionStore interface {
	FindSession(ctx context.Context, token string) (*Session, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Resolve turns an Authorization header into a valid session.
func Resolve(ctx context.Context, store SessionStore, header string, now time.Time) (Session, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Session{}, err
	}
	s, err := store.FindSession(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if s == nil || !s.Valid(now) {
		return Session{}, ErrInvalidToken
	}
	return *s, nil
}
