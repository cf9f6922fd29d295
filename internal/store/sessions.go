// File path: internal/store/sessions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetSession returns a session row, or sql.ErrNoRows when the token has not
// been seen.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := s.db.GetContext(ctx, &session,
		`SELECT * FROM chat_sessions WHERE session_id = ?`, sessionID); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession records a newly seen session token.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID, profile string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id required")
	}
	now := time.Now().UTC()
	session := Session{
		SessionID:     sessionID,
		UserID:        userID,
		ActiveProfile: profile,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, active_profile, created_at, last_active_at)
                VALUES (?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.ActiveProfile, now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &session, nil
}

// SetSessionProfile updates the active profile for a session.
func (s *Store) SetSessionProfile(ctx context.Context, sessionID, profile string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET active_profile = ?, last_active_at = ? WHERE session_id = ?`,
		profile, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set session profile: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchSession refreshes last_active_at.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET last_active_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// AppendMessage adds one turn to the session's append-only history.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// History returns a session's messages in arrival order. A non-positive
// limit returns the whole history.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	messages := []Message{}
	if limit > 0 {
		// Most recent N, restored to chronological order.
		if err := s.db.SelectContext(ctx, &messages,
			`SELECT * FROM (
                                SELECT * FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
                        ) ORDER BY id ASC`, sessionID, limit); err != nil {
			return nil, fmt.Errorf("select history: %w", err)
		}
		return messages, nil
	}
	if err := s.db.SelectContext(ctx, &messages,
		`SELECT * FROM chat_messages WHERE session_id = ? ORDER BY id ASC`, sessionID); err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	return messages, nil
}

// ClearHistory deletes all messages of a session. The session row itself
// survives so the token and its active profile persist.
func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
