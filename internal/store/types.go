// File path: internal/store/types.go
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Vector is an embedding persisted as a JSON array in a TEXT column.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
}

// Site is a crawled website.
type Site struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	URL         string    `db:"url" json:"url"`
	Description string    `db:"description" json:"description"`
	PageCount   int       `db:"page_count" json:"page_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Page is one stored retrieval unit: either a full page (is_chunk false) or
// a chunk split from a parent page.
type Page struct {
	ID         int64     `db:"id" json:"id"`
	SiteID     int64     `db:"site_id" json:"site_id"`
	URL        string    `db:"url" json:"url"`
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"content"`
	Summary    string    `db:"summary" json:"summary"`
	Embedding  Vector    `db:"embedding" json:"-"`
	IsChunk    bool      `db:"is_chunk" json:"is_chunk"`
	ChunkIndex *int      `db:"chunk_index" json:"chunk_index,omitempty"`
	ParentID   *int64    `db:"parent_id" json:"parent_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Session is one conversation stream identified by an opaque token.
type Session struct {
	SessionID     string    `db:"session_id" json:"session_id"`
	UserID        string    `db:"user_id" json:"user_id,omitempty"`
	ActiveProfile string    `db:"active_profile" json:"active_profile"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastActiveAt  time.Time `db:"last_active_at" json:"last_active_at"`
}

// Message is one turn in a session's append-only history.
type Message struct {
	ID        int64     `db:"id" json:"-"`
	SessionID string    `db:"session_id" json:"-"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// Preference is a durable confidence-scored fact about a user.
type Preference struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Type          string     `db:"preference_type" json:"preference_type"`
	Value         string     `db:"preference_value" json:"preference_value"`
	Context       string     `db:"context" json:"context,omitempty"`
	Confidence    float64    `db:"confidence" json:"confidence"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	LastUsed      *time.Time `db:"last_used" json:"last_used,omitempty"`
	SourceSession string     `db:"source_session" json:"source_session,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
}
