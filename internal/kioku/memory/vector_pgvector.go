package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    collection TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   JSONB NOT NULL DEFAULT '{}',
    embedding  vector,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_records_user_collection
    ON memory_records (user_id, collection, created_at DESC);
`

// PGVectorStore keeps records in PostgreSQL and ranks them server-side with
// the pgvector cosine distance operator.
type PGVectorStore struct {
	pool *pgxpool.Pool
}

// NewPGVectorStore wraps an open pool.
func NewPGVectorStore(pool *pgxpool.Pool) *PGVectorStore {
	return &PGVectorStore{pool: pool}
}

// EnsureSchema creates the extension, table and index when missing.
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("pgvector: ensure schema: %w", err)
	}
	return nil
}

// Insert stores rec.
func (s *PGVectorStore) Insert(ctx context.Context, rec Record) error {
	metadata := []byte(`{}`)
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("pgvector: marshal metadata: %w", err)
		}
	}

	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_records (id, user_id, collection, content, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, string(rec.Collection), rec.Content, metadata, embedding, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgvector: insert: %w", err)
	}
	return nil
}

// Search ranks by cosine distance; score = 1 - distance.
func (s *PGVectorStore) Search(ctx context.Context, userID string, coll Collection, query []float32, limit, offset int) ([]SearchResult, error) {
	if limit <= 0 || len(query) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS score
		 FROM memory_records
		 WHERE user_id = $2 AND collection = $3 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1, created_at DESC
		 LIMIT $4 OFFSET $5`,
		vec, userID, string(coll), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			res      SearchResult
			metadata []byte
		)
		if err := rows.Scan(&res.ID, &res.Content, &metadata, &res.CreatedAt, &res.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: unmarshal metadata: %w", err)
			}
		}
		if len(res.Metadata) == 0 {
			res.Metadata = nil
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Count returns the number of searchable records in the user's collection.
func (s *PGVectorStore) Count(ctx context.Context, userID string, coll Collection) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE user_id = $1 AND collection = $2 AND embedding IS NOT NULL`,
		userID, string(coll),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

var _ VectorStore = (*PGVectorStore)(nil)
