package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/tools"
)

// Backends are the shared stores and services every session draws on.
type Backends struct {
	Provider   llm.Provider
	CoreStore  memory.CoreStore
	Sessions   memory.SessionStore
	Vectors    memory.VectorStore
	Embedder   memory.Embedder
	Summariser memory.Summariser
}

// SessionsConfig collects the tunables applied to every session.
type SessionsConfig struct {
	Loop              Config
	Budget            memory.BudgetConfig
	Queue             memory.QueueConfig
	CoreFieldMaxChars int
	RecallPageSize    int
	ArchivalPageSize  int
	ToolTimeout       time.Duration
}

// Sessions lazily opens one Session per user. Turns for the same user are
// serialised by the Session; different users run concurrently.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	backends Backends
	cfg      SessionsConfig
	budget   *memory.Budget
	logger   *slog.Logger
}

// NewSessions creates an empty registry.
func NewSessions(b Backends, cfg SessionsConfig, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		backends: b,
		cfg:      cfg,
		budget:   memory.NewBudget(cfg.Budget),
		logger:   logger,
	}
}

// Get returns the user's session, opening it on first use.
func (r *Sessions) Get(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("agent: user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s, nil
	}
	s, err := r.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.sessions[userID] = s
	return s, nil
}

// Step runs one turn for userID. When the session cannot be opened the
// reply carries FallbackText and the error is returned alongside it.
func (r *Sessions) Step(ctx context.Context, userID, text string) (Reply, error) {
	s, err := r.Get(ctx, userID)
	if err != nil {
		r.logger.Error("agent: open session failed", "user_id", userID, "err", err)
		return Reply{Text: FallbackText, Outcome: OutcomeError}, err
	}
	return s.Step(ctx, text), nil
}

// open builds a session and restores its persisted queue.
func (r *Sessions) open(ctx context.Context, userID string) (*Session, error) {
	b := r.backends
	logger := r.logger.With("user_id", userID)

	core, err := memory.LoadCore(ctx, b.CoreStore, userID, r.cfg.CoreFieldMaxChars, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: open %s: %w", userID, err)
	}

	var recall, archival *memory.Index
	if b.Vectors != nil && b.Embedder != nil {
		recall = memory.NewIndex(b.Vectors, b.Embedder, memory.CollectionRecall, r.cfg.RecallPageSize, logger)
		archival = memory.NewIndex(b.Vectors, b.Embedder, memory.CollectionArchival, r.cfg.ArchivalPageSize, logger)
	}

	queue := memory.NewWorkingQueue(userID, r.cfg.Queue, recall, b.Summariser, b.Sessions, logger)
	restored, err := queue.Restore(ctx)
	if err != nil {
		logger.Warn("agent: session state not restored", "err", err)
	} else if restored {
		logger.Info("agent: session restored", "messages", queue.Len())
	}

	dispatcher, err := tools.NewDispatcher(userID, core, queue, recall, archival,
		tools.DispatcherConfig{Timeout: r.cfg.ToolTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: open %s: %w", userID, err)
	}

	return NewSession(Deps{
		UserID:     userID,
		Provider:   b.Provider,
		Core:       core,
		Queue:      queue,
		Recall:     recall,
		Archival:   archival,
		Budget:     r.budget,
		Dispatcher: dispatcher,
		Logger:     r.logger,
	}, r.cfg.Loop)
}
