// File path: internal/store/preferences.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActivePreference returns the single active row for a (user, type, value)
// key, or sql.ErrNoRows.
func (s *Store) ActivePreference(ctx context.Context, userID, prefType, prefValue string) (*Preference, error) {
	var pref Preference
	if err := s.db.GetContext(ctx, &pref,
		`SELECT * FROM user_preferences
                WHERE user_id = ? AND preference_type = ? AND preference_value = ? AND is_active = 1`,
		userID, prefType, prefValue); err != nil {
		return nil, err
	}
	return &pref, nil
}

// InsertPreference stores a new preference row.
func (s *Store) InsertPreference(ctx context.Context, pref *Preference) error {
	if pref == nil {
		return errors.New("preference required")
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	pref.IsActive = true
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences
                (id, user_id, preference_type, preference_value, context, confidence,
                 created_at, updated_at, last_used, source_session, is_active)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		pref.ID, pref.UserID, pref.Type, pref.Value, pref.Context, pref.Confidence,
		pref.CreatedAt, pref.UpdatedAt, pref.LastUsed, pref.SourceSession); err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

// ReinforcePreference refreshes an existing preference after a repeated
// assertion: new confidence, context and source session, updated timestamps.
func (s *Store) ReinforcePreference(ctx context.Context, id string, confidence float64, context_, sourceSession string) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences
                SET confidence = ?, context = ?, source_session = ?, updated_at = ?, last_used = ?
                WHERE id = ?`,
		confidence, context_, sourceSession, now, now, id); err != nil {
		return fmt.Errorf("reinforce preference: %w", err)
	}
	return nil
}

// ListPreferences returns a user's preferences ordered by confidence, then
// recency. typeFilter narrows to one preference type when non-empty.
func (s *Store) ListPreferences(ctx context.Context, userID string, activeOnly bool, minConfidence float64, typeFilter string) ([]Preference, error) {
	query := `SELECT * FROM user_preferences WHERE user_id = ? AND confidence >= ?`
	args := []interface{}{userID, minConfidence}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	if typeFilter = strings.TrimSpace(typeFilter); typeFilter != "" {
		query += ` AND preference_type = ?`
		args = append(args, typeFilter)
	}
	query += ` ORDER BY confidence DESC, updated_at DESC`
	prefs := []Preference{}
	if err := s.db.SelectContext(ctx, &prefs, query, args...); err != nil {
		return nil, fmt.Errorf("select preferences: %w", err)
	}
	return prefs, nil
}

// PreferenceByID returns one preference row, or sql.ErrNoRows.
func (s *Store) PreferenceByID(ctx context.Context, id string) (*Preference, error) {
	var pref Preference
	if err := s.db.GetContext(ctx, &pref,
		`SELECT * FROM user_preferences WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &pref, nil
}

// DeactivatePreference soft-deletes one preference.
func (s *Store) DeactivatePreference(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate preference: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeletePreference removes one preference row permanently. This is the
// explicit management operation; the merge path never deletes.
func (s *Store) DeletePreference(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearPreferences soft-deletes all of a user's active preferences and
// reports how many were affected.
func (s *Store) ClearPreferences(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences SET is_active = 0, updated_at = ? WHERE user_id = ? AND is_active = 1`,
		time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("clear preferences: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}
