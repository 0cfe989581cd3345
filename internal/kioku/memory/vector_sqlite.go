package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteVectorStore keeps records in the memory_records table and ranks them
// with brute-force cosine similarity in Go. modernc.org/sqlite cannot load
// vector extensions, and per-user collections stay small enough to scan.
type SQLiteVectorStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteVectorStore wraps a database migrated by the store package.
func NewSQLiteVectorStore(db *sql.DB, logger *slog.Logger) *SQLiteVectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteVectorStore{db: db, logger: logger}
}

// Insert stores rec. Records are never updated.
func (s *SQLiteVectorStore) Insert(ctx context.Context, rec Record) error {
	var embeddingJSON, metadataJSON []byte
	var err error
	if rec.Embedding != nil {
		if embeddingJSON, err = json.Marshal(rec.Embedding); err != nil {
			return fmt.Errorf("vector sqlite: marshal embedding: %w", err)
		}
	}
	if len(rec.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("vector sqlite: marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, user_id, collection, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Collection), rec.Content,
		nullableText(metadataJSON), nullableText(embeddingJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("vector sqlite: insert: %w", err)
	}
	return nil
}

// Search scores every embedded record of the user's collection.
func (s *SQLiteVectorStore) Search(ctx context.Context, userID string, coll Collection, query []float32, limit, offset int) ([]SearchResult, error) {
	if limit <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, metadata, embedding, created_at
		FROM memory_records
		WHERE user_id = ? AND collection = ? AND embedding IS NOT NULL
		ORDER BY created_at DESC`,
		userID, string(coll),
	)
	if err != nil {
		return nil, fmt.Errorf("vector sqlite: query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		res, embedding, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("vector sqlite: skip malformed row", "err", err)
			continue
		}
		res.Score = cosineSimilarity(query, embedding)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector sqlite: iterate rows: %w", err)
	}

	rankResults(results)
	if offset >= len(results) {
		return nil, nil
	}
	end := min(offset+limit, len(results))
	return results[offset:end], nil
}

// Count returns the number of searchable records in the user's collection.
func (s *SQLiteVectorStore) Count(ctx context.Context, userID string, coll Collection) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE user_id = ? AND collection = ? AND embedding IS NOT NULL`,
		userID, string(coll),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vector sqlite: count: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (SearchResult, []float32, error) {
	var (
		res           SearchResult
		metadataJSON  sql.NullString
		embeddingJSON sql.NullString
		createdAt     string
		embedding     []float32
	)
	if err := rows.Scan(&res.ID, &res.Content, &metadataJSON, &embeddingJSON, &createdAt); err != nil {
		return SearchResult{}, nil, fmt.Errorf("scan row: %w", err)
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &embedding); err != nil {
			return SearchResult{}, nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &res.Metadata); err != nil {
			return SearchResult{}, nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return SearchResult{}, nil, fmt.Errorf("parse created_at: %w", err)
	}
	res.CreatedAt = t
	return res, embedding, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

var _ VectorStore = (*SQLiteVectorStore)(nil)
