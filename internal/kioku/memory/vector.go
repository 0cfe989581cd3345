package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Collection partitions memory records by population policy.
type Collection string

const (
	// CollectionRecall is filled automatically from every queued message.
	CollectionRecall Collection = "recall"
	// CollectionArchival is filled only by explicit inserts.
	CollectionArchival Collection = "archival"
)

// Default page sizes for the two collections.
const (
	DefaultRecallPageSize   = 10
	DefaultArchivalPageSize = 5
)

// Record is a write-once memory record.
type Record struct {
	ID         string
	UserID     string
	Collection Collection
	Content    string
	Metadata   map[string]any
	Embedding  []float32
	CreatedAt  time.Time
}

// SearchResult is one ranked hit. Score is cosine similarity, i.e.
// 1 - cosine distance; higher is closer.
type SearchResult struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"relevance_score"`
	CreatedAt time.Time      `json:"created_at"`
}

// VectorStore is a backend for Index. Implementations partition by user and
// collection and order results by descending score, newest first on ties.
type VectorStore interface {
	Insert(ctx context.Context, rec Record) error
	Search(ctx context.Context, userID string, coll Collection, query []float32, limit, offset int) ([]SearchResult, error)
	Count(ctx context.Context, userID string, coll Collection) (int, error)
}

// Index is the shared insert/search contract of the recall and archival
// stores.
type Index struct {
	store    VectorStore
	embedder Embedder
	coll     Collection
	pageSize int
	logger   *slog.Logger
}

// NewIndex binds a collection of store to embedder. pageSize <= 0 selects
// the collection's default.
func NewIndex(store VectorStore, embedder Embedder, coll Collection, pageSize int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultRecallPageSize
		if coll == CollectionArchival {
			pageSize = DefaultArchivalPageSize
		}
	}
	return &Index{store: store, embedder: embedder, coll: coll, pageSize: pageSize, logger: logger}
}

// Collection returns the collection this index serves.
func (x *Index) Collection() Collection { return x.coll }

// PageSize returns the default page size.
func (x *Index) PageSize() int { return x.pageSize }

// Insert embeds content and stores it, returning the new record ID.
func (x *Index) Insert(ctx context.Context, userID, content string, metadata map[string]any) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content must not be empty", ErrInvalidArgument)
	}
	vec, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("%s insert: embed: %w", x.coll, err)
	}

	rec := Record{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Collection: x.coll,
		Content:    content,
		Metadata:   metadata,
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
	}
	if err := x.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("%s insert: %w", x.coll, err)
	}
	x.logger.Debug("memory: record inserted",
		"collection", x.coll, "user_id", userID, "id", rec.ID, "has_embedding", vec != nil)
	return rec.ID, nil
}

// Search returns the given 1-indexed page of results using the default
// page size.
func (x *Index) Search(ctx context.Context, userID, query string, page int) ([]SearchResult, error) {
	return x.SearchPage(ctx, userID, query, page, x.pageSize)
}

// SearchPage is Search with an explicit page size. Pages below 1 are
// treated as 1.
func (x *Index) SearchPage(ctx context.Context, userID, query string, page, pageSize int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidArgument)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = x.pageSize
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s search: embed: %w", x.coll, err)
	}
	if vec == nil {
		return nil, nil
	}
	results, err := x.store.Search(ctx, userID, x.coll, vec, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", x.coll, err)
	}
	return results, nil
}

// Count returns how many records the user has in this collection.
func (x *Index) Count(ctx context.Context, userID string) (int, error) {
	return x.store.Count(ctx, userID, x.coll)
}

// cosineSimilarity returns 0 for mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankResults orders by descending score, newest first on ties.
func rankResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}
