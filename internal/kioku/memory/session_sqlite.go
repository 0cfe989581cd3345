package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteSessionStore keeps session state as JSON in the session_state table.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore wraps a database migrated by the store package.
func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// LoadSession returns the saved state for userID.
func (s *SQLiteSessionStore) LoadSession(ctx context.Context, userID string) (SessionState, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_state WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionState{}, false, nil
	}
	if err != nil {
		return SessionState{}, false, fmt.Errorf("session sqlite: query: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return SessionState{}, false, fmt.Errorf("session sqlite: decode state: %w", err)
	}
	return st, true, nil
}

// SaveSession upserts the state.
func (s *SQLiteSessionStore) SaveSession(ctx context.Context, st SessionState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session sqlite: encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_state (user_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state      = excluded.state,
			updated_at = excluded.updated_at`,
		st.UserID, string(data), st.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("session sqlite: upsert: %w", err)
	}
	return nil
}

var _ SessionStore = (*SQLiteSessionStore)(nil)
