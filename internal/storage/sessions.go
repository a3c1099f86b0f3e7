package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/vocabio/internal/auth"
)

// InsertSession stores a session issued by auth.Issue.
func (db *DB) InsertSession(ctx context.Context, s auth.Session) error {
	s.ExpiresAt = dbTime(s.ExpiresAt)
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES (:token, :user_id, :expires_at)
	`, s)
	if err != nil {
		return fmt.Errorf("failed to insert session for user %s: %w", s.UserID, err)
	}
	return nil
}

// FindSession retrieves a session by token. It returns nil when absent.
func (db *DB) FindSession(ctx context.Context, token string) (*auth.Session, error) {
	var s auth.Session
	err := db.conn.GetContext(ctx, &s, `
		SELECT token, user_id, expires_at
		FROM sessions WHERE token = ?
	`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

// DeleteSession revokes a session.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
