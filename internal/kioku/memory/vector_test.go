package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

func newArchival(t *testing.T) *Index {
	t.Helper()
	return NewIndex(NewSQLiteVectorStore(setupTestDB(t), nil), NewHashEmbedder(0), CollectionArchival, 0, nil)
}

func TestIndex_DefaultPageSizes(t *testing.T) {
	if got := NewIndex(nil, nil, CollectionRecall, 0, nil).PageSize(); got != 10 {
		t.Errorf("recall page size = %d, want 10", got)
	}
	if got := NewIndex(nil, nil, CollectionArchival, 0, nil).PageSize(); got != 5 {
		t.Errorf("archival page size = %d, want 5", got)
	}
}

// vectorBackends runs fn against SQLite and, when KIOKU_TEST_POSTGRES_DSN is
// set, against PostgreSQL with pgvector in a throwaway schema.
func vectorBackends(t *testing.T, fn func(t *testing.T, vs VectorStore)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLiteVectorStore(setupTestDB(t), nil))
	})
	t.Run("pgvector", func(t *testing.T) {
		dsn := os.Getenv("KIOKU_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("KIOKU_TEST_POSTGRES_DSN not set")
		}
		fn(t, setupPGVector(t, dsn))
	})
}

func setupPGVector(t *testing.T, dsn string) *PGVectorStore {
	t.Helper()
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(admin.Close)

	schema := "kioku_test_" + strings.ToLower(ulid.Make().String())
	if _, err := admin.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		t.Fatalf("create extension: %v", err)
	}
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	t.Cleanup(pool.Close)

	vs := NewPGVectorStore(pool)
	if err := vs.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return vs
}

func TestIndex_ExactTextRanksFirst(t *testing.T) {
	vectorBackends(t, testExactTextRanksFirst)
}

func testExactTextRanksFirst(t *testing.T, vs VectorStore) {
	idx := NewIndex(vs, NewHashEmbedder(0), CollectionArchival, 0, nil)
	ctx := context.Background()

	docs := []string{
		"Completed plan: 5 days in Kyoto, temples and a tea ceremony.",
		"User is allergic to shellfish.",
		"Booked a hostel near Shinjuku station for the Tokyo leg.",
		"Favourite airline is TAP; has Miles&Go status.",
		"Itinerary for Porto: Ribeira walk, Livraria Lello, port cellars.",
		"Wants to avoid overnight buses.",
	}
	for i := range 24 {
		docs = append(docs, fmt.Sprintf("filler note %d about generic travel logistics", i))
	}
	for _, d := range docs {
		if _, err := idx.Insert(ctx, "alice", d, map[string]any{"category": "plan"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	target := "Booked a hostel near Shinjuku station for the Tokyo leg."
	results, err := idx.Search(ctx, "alice", target, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Content != target {
		t.Errorf("first result = %q, want %q", results[0].Content, target)
	}
	if math.Abs(results[0].Score-1) > 1e-5 {
		t.Errorf("exact match score = %v, want 1", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by descending score at %d", i)
		}
	}
	if results[0].Metadata["category"] != "plan" {
		t.Errorf("metadata = %+v", results[0].Metadata)
	}
}

func TestIndex_Pagination(t *testing.T) {
	vectorBackends(t, testPagination)
}

func testPagination(t *testing.T, vs VectorStore) {
	idx := NewIndex(vs, NewHashEmbedder(0), CollectionArchival, 0, nil)
	ctx := context.Background()
	for i := range 12 {
		if _, err := idx.Insert(ctx, "alice", fmt.Sprintf("note %d about museums in Madrid", i), nil); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	seen := map[string]bool{}
	for page, want := range map[int]int{1: 5, 2: 5, 3: 2, 4: 0} {
		results, err := idx.Search(ctx, "alice", "museums in Madrid", page)
		if err != nil {
			t.Fatalf("Search page %d: %v", page, err)
		}
		if len(results) != want {
			t.Errorf("page %d: got %d results, want %d", page, len(results), want)
		}
		for _, r := range results {
			if seen[r.ID] {
				t.Errorf("record %s returned on more than one page", r.ID)
			}
			seen[r.ID] = true
		}
	}

	first, _ := idx.Search(ctx, "alice", "museums in Madrid", 1)
	zero, _ := idx.Search(ctx, "alice", "museums in Madrid", 0)
	if len(zero) != len(first) || zero[0].ID != first[0].ID {
		t.Error("page 0 should be treated as page 1")
	}
}

func TestIndex_UserIsolation(t *testing.T) {
	vectorBackends(t, testUserIsolation)
}

func testUserIsolation(t *testing.T, vs VectorStore) {
	idx := NewIndex(vs, NewHashEmbedder(0), CollectionArchival, 0, nil)
	ctx := context.Background()
	idx.Insert(ctx, "alice", "Alice's passport expires in March.", nil)

	results, err := idx.Search(ctx, "bob", "passport expires", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("bob should not see alice's records, got %+v", results)
	}
}

func TestIndex_CollectionIsolation(t *testing.T) {
	vectorBackends(t, testCollectionIsolation)
}

func testCollectionIsolation(t *testing.T, vs VectorStore) {
	emb := NewHashEmbedder(0)
	recall := NewIndex(vs, emb, CollectionRecall, 0, nil)
	archival := NewIndex(vs, emb, CollectionArchival, 0, nil)
	ctx := context.Background()

	recall.Insert(ctx, "alice", "user: what about Seville?", nil)
	if n, _ := archival.Count(ctx, "alice"); n != 0 {
		t.Errorf("archival count = %d, want 0", n)
	}
	if n, _ := recall.Count(ctx, "alice"); n != 1 {
		t.Errorf("recall count = %d, want 1", n)
	}
}

func TestIndex_CountSkipsUnembedded(t *testing.T) {
	vectorBackends(t, testCountSkipsUnembedded)
}

func testCountSkipsUnembedded(t *testing.T, vs VectorStore) {
	idx := NewIndex(vs, NewHashEmbedder(0), CollectionArchival, 0, nil)
	ctx := context.Background()

	// Punctuation alone has no features, so it is stored without a vector.
	if _, err := idx.Insert(ctx, "alice", " ... ", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := idx.Insert(ctx, "alice", "Prefers aisle seats on long flights.", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := idx.Count(ctx, "alice")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestIndex_Validation(t *testing.T) {
	idx := newArchival(t)
	ctx := context.Background()
	if _, err := idx.Insert(ctx, "alice", " ", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Insert(blank) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := idx.Search(ctx, "alice", "", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Search(blank) error = %v, want ErrInvalidArgument", err)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func TestIndex_EmbedderFailure(t *testing.T) {
	idx := NewIndex(NewSQLiteVectorStore(setupTestDB(t), nil), failingEmbedder{}, CollectionArchival, 0, nil)
	if _, err := idx.Insert(context.Background(), "alice", "anything", nil); err == nil {
		t.Error("expected insert error when embedding fails")
	}
	if _, err := idx.Search(context.Background(), "alice", "anything", 1); err == nil {
		t.Error("expected search error when embedding fails")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
