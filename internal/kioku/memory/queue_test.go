package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
)

func fillQueue(q *WorkingQueue, n int) {
	for i := range n {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		q.Append(context.Background(), NewMessage(role, fmt.Sprintf("message %02d about the Lisbon trip", i)))
	}
}

func TestWorkingQueue_SnapshotNewest(t *testing.T) {
	q := NewWorkingQueue("alice", QueueConfig{}, nil, nil, nil, nil)
	fillQueue(q, 5)

	snap := q.Snapshot(2)
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	if !strings.HasPrefix(snap[0].Content, "message 03") || !strings.HasPrefix(snap[1].Content, "message 04") {
		t.Errorf("unexpected snapshot order: %q, %q", snap[0].Content, snap[1].Content)
	}
	if got := len(q.Snapshot(0)); got != 5 {
		t.Errorf("Snapshot(0) length = %d, want 5", got)
	}

	snap[0].Content = "mutated"
	if q.Snapshot(2)[0].Content == "mutated" {
		t.Error("Snapshot must return a copy")
	}
}

func TestWorkingQueue_FlushBelowMinimumIsNoop(t *testing.T) {
	sum := &stubSummariser{out: "should not be used"}
	q := NewWorkingQueue("alice", QueueConfig{}, nil, sum, nil, nil)
	fillQueue(q, 9)

	res := q.Flush(context.Background())
	if res.Flushed {
		t.Error("expected no flush below the minimum size")
	}
	if q.Len() != 9 || q.Summary() != "" || sum.calls != 0 {
		t.Errorf("queue modified: len=%d summary=%q calls=%d", q.Len(), q.Summary(), sum.calls)
	}
}

func TestWorkingQueue_FlushHalvesQueue(t *testing.T) {
	for _, n := range []int{10, 11, 17, 40} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			q := NewWorkingQueue("alice", QueueConfig{}, nil, nil, nil, nil)
			fillQueue(q, n)
			oldest := q.Snapshot(0)[0].Content
			newest := q.Snapshot(1)[0].Content

			res := q.Flush(context.Background())
			if !res.Flushed {
				t.Fatal("expected flush")
			}
			ceilHalf := (n + 1) / 2
			if q.Len() > ceilHalf {
				t.Errorf("len after flush = %d, want <= %d", q.Len(), ceilHalf)
			}
			if res.Evicted+res.Remaining != n {
				t.Errorf("evicted %d + remaining %d != %d", res.Evicted, res.Remaining, n)
			}
			if q.Snapshot(1)[0].Content != newest {
				t.Error("newest message must survive a flush")
			}
			if !strings.Contains(q.Summary(), oldest) {
				t.Errorf("summary should contain the evicted oldest message %q:\n%s", oldest, q.Summary())
			}
		})
	}
}

func TestWorkingQueue_FlushMergesPreviousSummary(t *testing.T) {
	q := NewWorkingQueue("alice", QueueConfig{}, nil, nil, nil, nil)
	fillQueue(q, 12)
	q.Flush(context.Background())
	first := q.Summary()

	fillQueue(q, 10)
	q.Flush(context.Background())
	if !strings.HasPrefix(q.Summary(), first) {
		t.Errorf("second summary must preserve the first:\nfirst:  %q\nsecond: %q", first, q.Summary())
	}
}

func TestWorkingQueue_FlushUsesSummariser(t *testing.T) {
	sum := &stubSummariser{out: "User plans Lisbon in May."}
	q := NewWorkingQueue("alice", QueueConfig{}, nil, sum, nil, nil)
	fillQueue(q, 12)
	q.Flush(context.Background())

	res := q.Flush(context.Background()) // 6 messages left: below minimum
	if res.Flushed {
		t.Fatal("second flush should be a no-op")
	}
	if q.Summary() != "User plans Lisbon in May." {
		t.Errorf("summary = %q", q.Summary())
	}
	if sum.previous != "" || len(sum.evicted) != 6 {
		t.Errorf("summariser got previous=%q evicted=%d", sum.previous, len(sum.evicted))
	}

	fillQueue(q, 6)
	sum.out = "User plans Lisbon in May; vegetarian."
	q.Flush(context.Background())
	if sum.previous != "User plans Lisbon in May." {
		t.Errorf("summariser should receive the previous summary, got %q", sum.previous)
	}
}

func TestWorkingQueue_FlushFallsBackToTranscript(t *testing.T) {
	tests := []struct {
		name string
		sum  *stubSummariser
	}{
		{"error", &stubSummariser{err: errors.New("inference timeout")}},
		{"empty", &stubSummariser{out: ""}},
		{"oversized", &stubSummariser{out: strings.Repeat("bloat ", 5000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewWorkingQueue("alice", QueueConfig{}, nil, tt.sum, nil, nil)
			fillQueue(q, 10)
			res := q.Flush(context.Background())
			if res.Method != "mechanical" {
				t.Errorf("method = %q, want mechanical", res.Method)
			}
			if !strings.Contains(q.Summary(), "message 00 about the Lisbon trip") {
				t.Errorf("fallback summary lost evicted content: %q", q.Summary())
			}
		})
	}
}

func TestWorkingQueue_FlushNeverIncreasesEstimate(t *testing.T) {
	b := NewBudget(BudgetConfig{})
	for _, sum := range []Summariser{nil, &stubSummariser{out: "short"}, &stubSummariser{err: errors.New("boom")}} {
		q := NewWorkingQueue("alice", QueueConfig{}, nil, sum, nil, nil)
		for round := range 4 {
			fillQueue(q, 10+round*3)
			before := b.Estimate("system", "core", q.Summary(), q.Snapshot(0))
			q.Flush(context.Background())
			after := b.Estimate("system", "core", q.Summary(), q.Snapshot(0))
			if after > before {
				t.Fatalf("estimate increased after flush (round %d, summariser %T): %d -> %d",
					round, sum, before, after)
			}
		}
	}
}

func TestWorkingQueue_MirrorsToRecall(t *testing.T) {
	db := setupTestDB(t)
	recall := NewIndex(NewSQLiteVectorStore(db, nil), NewHashEmbedder(0), CollectionRecall, 0, nil)
	q := NewWorkingQueue("alice", QueueConfig{}, recall, nil, nil, nil)
	ctx := context.Background()

	q.Append(ctx, userMsg("I'd love a ryokan with an onsen in Hakone"))
	q.Append(ctx, Message{
		Role:     llm.RoleTool,
		Content:  `{"status":"ok"}`,
		Metadata: map[string]string{MetaOperation: "core_memory_append"},
	})
	fillQueue(q, 10)
	q.Flush(ctx)

	n, err := recall.Count(ctx, "alice")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 12 {
		t.Errorf("recall count = %d, want 12 (eviction must not remove recall copies)", n)
	}

	results, err := recall.Search(ctx, "alice", "ryokan with an onsen in Hakone", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || !strings.Contains(results[0].Content, "ryokan") {
		t.Fatalf("expected the ryokan message first, got %+v", results)
	}
	if results[0].Metadata["role"] != "user" {
		t.Errorf("recall metadata = %+v", results[0].Metadata)
	}
}

func TestWorkingQueue_RestoreFromSessionStore(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewSQLiteSessionStore(db)
	ctx := context.Background()

	q := NewWorkingQueue("alice", QueueConfig{}, nil, nil, sessions, nil)
	fillQueue(q, 12)
	q.Flush(ctx)

	restored := NewWorkingQueue("alice", QueueConfig{}, nil, nil, sessions, nil)
	found, err := restored.Restore(ctx)
	if err != nil || !found {
		t.Fatalf("Restore: found=%v err=%v", found, err)
	}
	if restored.Len() != q.Len() || restored.Summary() != q.Summary() {
		t.Errorf("restored len=%d summary=%q, want len=%d summary=%q",
			restored.Len(), restored.Summary(), q.Len(), q.Summary())
	}

	other := NewWorkingQueue("bob", QueueConfig{}, nil, nil, sessions, nil)
	if found, _ := other.Restore(ctx); found {
		t.Error("bob must not see alice's session")
	}
}
