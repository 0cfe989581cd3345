package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteCoreStore keeps core memory records as JSON in the core_memory table.
type SQLiteCoreStore struct {
	db *sql.DB
}

// NewSQLiteCoreStore wraps a database migrated by the store package.
func NewSQLiteCoreStore(db *sql.DB) *SQLiteCoreStore {
	return &SQLiteCoreStore{db: db}
}

// LoadCore returns the user's record, or found=false when there is none.
func (s *SQLiteCoreStore) LoadCore(ctx context.Context, userID string) (CoreMemory, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM core_memory WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CoreMemory{}, false, nil
	}
	if err != nil {
		return CoreMemory{}, false, fmt.Errorf("core sqlite: query: %w", err)
	}

	var rec CoreMemory
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return CoreMemory{}, false, fmt.Errorf("core sqlite: decode record: %w", err)
	}
	return rec, true, nil
}

// SaveCore upserts the full record.
func (s *SQLiteCoreStore) SaveCore(ctx context.Context, userID string, rec CoreMemory) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("core sqlite: encode record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO core_memory (user_id, record, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			record     = excluded.record,
			updated_at = excluded.updated_at`,
		userID, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("core sqlite: upsert: %w", err)
	}
	return nil
}

var _ CoreStore = (*SQLiteCoreStore)(nil)
