package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/store"
	"github.com/bdobrica/Kioku/internal/kioku/tools"
)

// scriptedProvider replays one step per call and repeats the last step once
// the script runs out.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
	reqs  []llm.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.reqs)
	p.reqs = append(p.reqs, req)
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i](req)
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func (p *scriptedProvider) request(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[i]
}

func script(steps ...func(llm.CompletionRequest) (*llm.CompletionResponse, error)) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func callsOps(calls ...llm.ToolCall) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
			FinishReason: "tool_calls",
		}, nil
	}
}

func says(text string) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
			FinishReason: "stop",
		}, nil
	}
}

func fails(msg string) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New(msg)
	}
}

func op(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// stalledProvider blocks every call until its context is done.
type stalledProvider struct{}

func (stalledProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stalledSummariser blocks until its context is done.
type stalledSummariser struct{}

func (stalledSummariser) Summarise(ctx context.Context, _ string, _ []memory.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// fastRetry keeps inference retries from sleeping in tests.
var fastRetry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func newTestBackends(t *testing.T, provider llm.Provider) Backends {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "kioku.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return Backends{
		Provider:  provider,
		CoreStore: memory.NewSQLiteCoreStore(s.DB()),
		Sessions:  memory.NewSQLiteSessionStore(s.DB()),
		Vectors:   memory.NewSQLiteVectorStore(s.DB(), nil),
		Embedder:  memory.NewHashEmbedder(0),
	}
}

// sessionOptions overrides parts of a test session.
type sessionOptions struct {
	Loop       Config
	Queue      memory.QueueConfig
	Summariser memory.Summariser
}

// newTestSession builds a session over fresh SQLite backends.
func newTestSession(t *testing.T, provider llm.Provider, budget memory.BudgetConfig) *Session {
	t.Helper()
	return newTestSessionWith(t, provider, budget, sessionOptions{})
}

func newTestSessionWith(t *testing.T, provider llm.Provider, budget memory.BudgetConfig, opts sessionOptions) *Session {
	t.Helper()
	b := newTestBackends(t, provider)
	ctx := context.Background()

	core, err := memory.LoadCore(ctx, b.CoreStore, "u1", 0, nil)
	if err != nil {
		t.Fatalf("LoadCore: %v", err)
	}
	recall := memory.NewIndex(b.Vectors, b.Embedder, memory.CollectionRecall, 0, nil)
	archival := memory.NewIndex(b.Vectors, b.Embedder, memory.CollectionArchival, 0, nil)
	queue := memory.NewWorkingQueue("u1", opts.Queue, recall, opts.Summariser, b.Sessions, nil)
	d, err := tools.NewDispatcher("u1", core, queue, recall, archival, tools.DispatcherConfig{}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if opts.Loop.InferenceRetry.MaxAttempts == 0 {
		opts.Loop.InferenceRetry = fastRetry
	}
	s, err := NewSession(Deps{
		UserID:     "u1",
		Provider:   provider,
		Core:       core,
		Queue:      queue,
		Recall:     recall,
		Archival:   archival,
		Budget:     memory.NewBudget(budget),
		Dispatcher: d,
	}, opts.Loop)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}
