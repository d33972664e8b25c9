// Package store persists conversational memory for the room server:
// turns, session intents and user preferences, keyed by user and
// session.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Turn is one utterance in a conversation
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Intent is the current intent of a session
type Intent struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Intent    string    `json:"intent"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preference is one durable user preference
type Preference struct {
	UserID    string    `json:"userId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a SQLite-backed memory store
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and runs migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate creates the necessary tables if they don't exist
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_turns_user_session ON conversation_turns(user_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created_at ON conversation_turns(created_at);

	CREATE TABLE IF NOT EXISTS session_intents (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveTurn appends one turn. A missing id or timestamp is filled in.
func (s *Store) SaveTurn(ctx context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, user_id, session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.UserID, turn.SessionID, turn.Role, turn.Content, turn.CreatedAt,
	)
	return err
}

// Turns returns up to limit most recent turns for a session in
// chronological order.
func (s *Store) Turns(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, role, content, created_at
		 FROM conversation_turns
		 WHERE user_id = ? AND session_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DESC fetch picked the newest turns; flip back to reading order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveIntent upserts the intent for a session
func (s *Store) SaveIntent(ctx context.Context, intent Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_intents (user_id, session_id, intent, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET
			intent = excluded.intent,
			updated_at = excluded.updated_at`,
		intent.UserID, intent.SessionID, intent.Intent, intent.UpdatedAt,
	)
	return err
}

// IntentFor returns the session intent, or sql.ErrNoRows when unset
func (s *Store) IntentFor(ctx context.Context, userID, sessionID string) (Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var intent Intent
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, intent, updated_at
		 FROM session_intents
		 WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	).Scan(&intent.UserID, &intent.SessionID, &intent.Intent, &intent.UpdatedAt)
	return intent, err
}

// SavePreference upserts one user preference
func (s *Store) SavePreference(ctx context.Context, pref Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		pref.UserID, pref.Key, pref.Value, pref.UpdatedAt,
	)
	return err
}

// Preferences returns all preferences for a user
func (s *Store) Preferences(ctx context.Context, userID string) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value, updated_at
		 FROM user_preferences
		 WHERE user_id = ?
		 ORDER BY key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	prefs := make([]Preference, 0)
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// ClearSession removes the turns and intent of one session
func (s *Store) ClearSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_intents WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	)
	return err
}

// PruneBefore deletes turns older than the cutoff, returning the
// number of rows removed. Intents and preferences are kept.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
