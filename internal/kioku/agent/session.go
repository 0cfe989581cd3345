// Package agent runs the bounded tool-calling loop of a Kioku session.
//
// A turn moves through BUILD_PROMPT, INFER and DISPATCH until no executed
// operation asks for a heartbeat, the model answers without operations, or the
// round cap is reached. The caller always gets text back.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/tools"
)

// FallbackText is returned whenever a turn cannot produce a reply.
const FallbackText = "I apologize, but I encountered an issue processing your request."

const (
	DefaultMaxRounds        = 10
	DefaultPromptWindow     = 20
	DefaultInferenceTimeout = 60 * time.Second
)

// State is a step of the turn state machine.
type State int

const (
	StateBuildPrompt State = iota
	StateInfer
	StateDispatch
	StateTerminate
)

func (s State) String() string {
	switch s {
	case StateBuildPrompt:
		return "BUILD_PROMPT"
	case StateInfer:
		return "INFER"
	case StateDispatch:
		return "DISPATCH"
	case StateTerminate:
		return "TERMINATE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	// OutcomeReplied: the model called send_message.
	OutcomeReplied Outcome = "replied"
	// OutcomeText: the model answered with plain text and no operations.
	OutcomeText Outcome = "text"
	// OutcomeExhausted: the round cap was reached.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeNoReply: the loop ended without any reply text.
	OutcomeNoReply Outcome = "no_reply"
	// OutcomeInferenceFailed: inference failed after its retry.
	OutcomeInferenceFailed Outcome = "inference_failed"
	// OutcomeError: the session could not be opened.
	OutcomeError Outcome = "error"
)

// Reply is the result of one turn.
type Reply struct {
	Text    string
	Outcome Outcome
	Rounds  int
	// Usage is the context estimate measured at termination, before any
	// flush.
	Usage   memory.Usage
	Flushed bool
}

// Config holds per-session loop tunables.
type Config struct {
	// MaxRounds caps inference calls per turn. Default: 10.
	MaxRounds int
	// PromptWindow is the number of newest queue messages sent to the
	// model. Default: 20.
	PromptWindow int
	// InferenceTimeout bounds a single inference attempt. Default: 60s.
	InferenceTimeout time.Duration
	// InferenceRetry controls retries of a failed inference call.
	// Default: retry.Once.
	InferenceRetry retry.Config
	// Model overrides the provider's default model when non-empty.
	Model string
	// MaxCompletionTokens bounds each completion. Zero leaves it to the
	// provider.
	MaxCompletionTokens int
	// Instructions replaces DefaultInstructions when non-empty.
	Instructions string
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.PromptWindow <= 0 {
		c.PromptWindow = DefaultPromptWindow
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.InferenceRetry.MaxAttempts <= 0 {
		c.InferenceRetry = retry.Once
	}
	c.InferenceRetry.Op = "infer"
	if strings.TrimSpace(c.Instructions) == "" {
		c.Instructions = DefaultInstructions
	}
	return c
}

// Deps are the collaborators of one session.
type Deps struct {
	UserID     string
	Provider   llm.Provider
	Core       *memory.Core
	Queue      *memory.WorkingQueue
	Recall     *memory.Index
	Archival   *memory.Index
	Budget     *memory.Budget
	Dispatcher *tools.Dispatcher
	Logger     *slog.Logger
}

// Session is the loop controller for one user. Step calls are serialised;
// between turns only the queue, its summary and core memory carry state.
type Session struct {
	mu     sync.Mutex
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewSession wires a session from its collaborators. Provider, Core, Queue
// and Dispatcher are required.
func NewSession(deps Deps, cfg Config) (*Session, error) {
	switch {
	case deps.Provider == nil:
		return nil, fmt.Errorf("agent: session %s: provider is required", deps.UserID)
	case deps.Core == nil:
		return nil, fmt.Errorf("agent: session %s: core memory is required", deps.UserID)
	case deps.Queue == nil:
		return nil, fmt.Errorf("agent: session %s: queue is required", deps.UserID)
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("agent: session %s: dispatcher is required", deps.UserID)
	}
	if deps.Budget == nil {
		deps.Budget = memory.NewBudget(memory.BudgetConfig{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger.With("user_id", deps.UserID),
	}, nil
}

// UserID returns the session owner.
func (s *Session) UserID() string { return s.deps.UserID }

// Core returns the session's core memory.
func (s *Session) Core() *memory.Core { return s.deps.Core }

// Queue returns the session's working queue.
func (s *Session) Queue() *memory.WorkingQueue { return s.deps.Queue }

// Recall returns the recall index, which may be nil.
func (s *Session) Recall() *memory.Index { return s.deps.Recall }

// Usage measures the current context estimate.
func (s *Session) Usage() memory.Usage {
	q := s.deps.Queue
	return s.deps.Budget.Measure(s.cfg.Instructions, s.deps.Core.Render(), q.Summary(), q.Messages())
}

// Archive inserts content into the user's archival memory, for example a
// finished itinerary.
func (s *Session) Archive(ctx context.Context, content string, metadata map[string]any) (string, error) {
	if s.deps.Archival == nil {
		return "", fmt.Errorf("agent: archive: archival memory is not configured")
	}
	return s.deps.Archival.Insert(ctx, s.deps.UserID, content, metadata)
}

// SearchArchival runs an archival search as the model would.
func (s *Session) SearchArchival(ctx context.Context, query string, page int) ([]memory.SearchResult, error) {
	if s.deps.Archival == nil {
		return nil, fmt.Errorf("agent: search: archival memory is not configured")
	}
	return s.deps.Archival.Search(ctx, s.deps.UserID, query, page)
}

// SearchRecall runs a conversation search as the model would.
func (s *Session) SearchRecall(ctx context.Context, query string, page int) ([]memory.SearchResult, error) {
	if s.deps.Recall == nil {
		return nil, fmt.Errorf("agent: search: recall memory is not configured")
	}
	return s.deps.Recall.Search(ctx, s.deps.UserID, query, page)
}

// turn carries the mutable state of one Step.
type turn struct {
	rounds  int
	pending []llm.ToolCall
	sent    string
	text    string
	failed  bool
	capped  bool
}

// Step runs one user turn to completion and returns the user-visible reply.
func (s *Session) Step(ctx context.Context, userText string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = trace.Ensure(ctx)
	log := observability.WithTrace(ctx, s.logger)
	start := time.Now()

	q := s.deps.Queue
	q.Append(ctx, memory.NewMessage(llm.RoleUser, userText))

	usage := s.Usage()
	metrics.ContextTokens.Observe(float64(usage.Estimate))
	if usage.Warning {
		q.Append(ctx, memory.NewMessage(llm.RoleSystem, pressureWarning(usage)))
		log.Info("agent: memory pressure", "estimate", usage.Estimate, "max", usage.Max)
	}

	var t turn
	state := StateBuildPrompt
	var req llm.CompletionRequest
	for state != StateTerminate {
		switch state {
		case StateBuildPrompt:
			if t.rounds >= s.cfg.MaxRounds {
				t.capped = true
				state = StateTerminate
				continue
			}
			req = s.buildRequest()
			state = StateInfer

		case StateInfer:
			t.rounds++
			resp, err := s.infer(ctx, req)
			if err != nil {
				metrics.InferenceFailuresTotal.Inc()
				log.Error("agent: inference failed", "round", t.rounds, "err", err)
				t.failed = true
				state = StateTerminate
				continue
			}
			state = s.recordAssistant(ctx, resp.Message, &t)

		case StateDispatch:
			heartbeat := false
			for _, call := range t.pending {
				res := s.deps.Dispatcher.Execute(ctx, call)
				if res.Terminal {
					t.sent = res.Reply
				}
				heartbeat = heartbeat || res.Heartbeat
			}
			t.pending = nil
			if heartbeat {
				state = StateBuildPrompt
			} else {
				state = StateTerminate
			}
		}
	}

	reply := s.terminate(ctx, &t)
	metrics.TurnsTotal.WithLabelValues(string(reply.Outcome)).Inc()
	metrics.InferenceRounds.Observe(float64(reply.Rounds))
	log.Info("agent: turn finished",
		"outcome", reply.Outcome,
		"rounds", reply.Rounds,
		"estimate", reply.Usage.Estimate,
		"flushed", reply.Flushed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

// recordAssistant queues the model's message and picks the next state.
// Tool calls without an id get one so their results can be paired.
func (s *Session) recordAssistant(ctx context.Context, msg llm.Message, t *turn) State {
	if len(msg.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + strings.ToLower(ulid.Make().String())
			}
		}
		msg.ToolCalls = calls
	}
	if msg.Content != "" || len(msg.ToolCalls) > 0 {
		m := memory.NewMessage(llm.RoleAssistant, msg.Content)
		m.ToolCalls = msg.ToolCalls
		s.deps.Queue.Append(ctx, m)
	}
	if len(msg.ToolCalls) == 0 {
		if text := strings.TrimSpace(msg.Content); text != "" {
			t.text = text
		}
		return StateTerminate
	}
	t.pending = msg.ToolCalls
	return StateDispatch
}

// terminate applies the reply rules and flushes when the budget demands it.
func (s *Session) terminate(ctx context.Context, t *turn) Reply {
	reply := Reply{Rounds: t.rounds}
	switch {
	case t.sent != "":
		reply.Text = t.sent
		reply.Outcome = OutcomeReplied
	case t.text != "":
		reply.Text = t.text
		reply.Outcome = OutcomeText
	default:
		reply.Text = FallbackText
		reply.Outcome = OutcomeNoReply
	}
	switch {
	case t.failed:
		reply.Outcome = OutcomeInferenceFailed
	case t.capped:
		reply.Outcome = OutcomeExhausted
	}

	reply.Usage = s.Usage()
	if reply.Usage.MustFlush {
		res := s.deps.Queue.Flush(ctx)
		reply.Flushed = res.Flushed
	}
	return reply
}

func (s *Session) buildRequest() llm.CompletionRequest {
	q := s.deps.Queue
	system := buildSystemPrompt(s.cfg.Instructions, s.deps.Core.Render(), q.Summary())
	return llm.CompletionRequest{
		Model:     s.cfg.Model,
		Messages:  buildMessages(system, q.Snapshot(s.cfg.PromptWindow)),
		Tools:     s.deps.Dispatcher.Definitions(),
		MaxTokens: s.cfg.MaxCompletionTokens,
	}
}

// infer calls the provider with a per-attempt timeout and one retry.
func (s *Session) infer(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := retry.Do(ctx, s.cfg.InferenceRetry, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.InferenceTimeout)
		defer cancel()
		r, err := s.deps.Provider.Complete(attemptCtx, req)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("agent: empty completion response")
		}
		resp = r
		return nil
	})
	return resp, err
}
