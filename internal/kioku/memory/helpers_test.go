package memory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// setupTestDB opens a migrated SQLite database in a temp dir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "kioku.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.DB()
}

// stubSummariser returns a fixed summary or error and records its input.
type stubSummariser struct {
	out      string
	err      error
	previous string
	evicted  []Message
	calls    int
}

func (s *stubSummariser) Summarise(_ context.Context, previous string, evicted []Message) (string, error) {
	s.calls++
	s.previous = previous
	s.evicted = evicted
	return s.out, s.err
}

// failingCoreStore fails every save and reports no stored record.
type failingCoreStore struct{ saves int }

func (f *failingCoreStore) LoadCore(context.Context, string) (CoreMemory, bool, error) {
	return CoreMemory{}, false, nil
}

func (f *failingCoreStore) SaveCore(context.Context, string, CoreMemory) error {
	f.saves++
	return errors.New("disk full")
}

// fixedProvider answers every completion with the same text.
type fixedProvider struct {
	text string
	err  error
	reqs []llm.CompletionRequest
}

func (p *fixedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: p.text},
		FinishReason: "stop",
	}, nil
}

func userMsg(content string) Message {
	return NewMessage(llm.RoleUser, content)
}
