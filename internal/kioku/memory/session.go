package memory

import (
	"context"
	"time"
)

// SessionState is the persisted form of a working queue.
type SessionState struct {
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists working queue state so a session survives restarts.
type SessionStore interface {
	// LoadSession returns the saved state and whether one existed.
	LoadSession(ctx context.Context, userID string) (SessionState, bool, error)
	// SaveSession replaces the saved state for st.UserID.
	SaveSession(ctx context.Context, st SessionState) error
}
