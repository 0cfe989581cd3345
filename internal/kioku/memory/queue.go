package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

const (
	// DefaultMinFlushMessages is the queue length below which Flush is a no-op.
	DefaultMinFlushMessages = 10
	DefaultSummaryTimeout   = 60 * time.Second
	DefaultMirrorTimeout    = 20 * time.Second
)

// QueueConfig holds working queue tunables.
type QueueConfig struct {
	// MinFlushMessages guards short sessions from being flushed.
	// Default: 10.
	MinFlushMessages int
	// SummaryTimeout bounds one summariser call during Flush. On expiry the
	// transcript merge is used. Default: 60s.
	SummaryTimeout time.Duration
	// MirrorTimeout bounds one recall insert. Default: 20s.
	MirrorTimeout time.Duration
}

// FlushResult describes a Flush call.
type FlushResult struct {
	Flushed   bool
	Evicted   int
	Remaining int
	// Method is "llm" when the summariser produced the new summary and
	// "mechanical" when the lossless fallback was used.
	Method string
}

// WorkingQueue is a session's in-context message buffer and its rolling
// summary. Every appended message is mirrored to the recall index; eviction
// from the queue never removes the recall copy.
type WorkingQueue struct {
	mu         sync.Mutex
	userID     string
	messages   []Message
	summary    string
	cfg        QueueConfig
	recall     *Index
	summariser Summariser
	sessions   SessionStore
	logger     *slog.Logger
}

// NewWorkingQueue creates an empty queue. recall, summariser and sessions
// may be nil: no mirroring, mechanical summaries, no persistence.
func NewWorkingQueue(userID string, cfg QueueConfig, recall *Index, summariser Summariser, sessions SessionStore, logger *slog.Logger) *WorkingQueue {
	if cfg.MinFlushMessages <= 0 {
		cfg.MinFlushMessages = DefaultMinFlushMessages
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = DefaultMirrorTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkingQueue{
		userID:     userID,
		cfg:        cfg,
		recall:     recall,
		summariser: summariser,
		sessions:   sessions,
		logger:     logger,
	}
}

// Restore loads persisted state, replacing the in-memory queue. It reports
// whether any state was found.
func (q *WorkingQueue) Restore(ctx context.Context) (bool, error) {
	if q.sessions == nil {
		return false, nil
	}
	st, found, err := q.sessions.LoadSession(ctx, q.userID)
	if err != nil || !found {
		return false, err
	}
	q.mu.Lock()
	q.messages = st.Messages
	q.summary = st.Summary
	q.mu.Unlock()
	return true, nil
}

// Append adds msg to the tail, mirrors it to recall and persists the queue.
// Mirroring and persistence are best effort.
func (q *WorkingQueue) Append(ctx context.Context, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()

	q.mirror(ctx, msg)
	q.persist(ctx)
}

// Snapshot returns copies of the newest limit messages; limit <= 0 returns
// all of them.
func (q *WorkingQueue) Snapshot(limit int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	start := 0
	if limit > 0 && len(q.messages) > limit {
		start = len(q.messages) - limit
	}
	out := make([]Message, len(q.messages)-start)
	copy(out, q.messages[start:])
	return out
}

// Messages returns copies of every queued message, oldest first.
func (q *WorkingQueue) Messages() []Message {
	return q.Snapshot(0)
}

// Len returns the number of queued messages.
func (q *WorkingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Summary returns the rolling summary of everything evicted so far.
func (q *WorkingQueue) Summary() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.summary
}

// Flush evicts the oldest half of the queue and folds it into the summary.
// Queues shorter than MinFlushMessages are left alone.
//
// The new summary never costs more than the previous summary plus the
// evicted messages: a summariser error, an empty result or an oversized
// result falls back to MergeSummary.
func (q *WorkingQueue) Flush(ctx context.Context) FlushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.messages)
	if n < q.cfg.MinFlushMessages {
		return FlushResult{Remaining: n}
	}

	keep := n / 2
	evicted := make([]Message, n-keep)
	copy(evicted, q.messages[:n-keep])

	ceiling := estimateText(q.summary) + estimateMessages(evicted)
	method := "mechanical"
	next := MergeSummary(q.summary, evicted)
	if q.summariser != nil {
		sumCtx, cancel := context.WithTimeout(ctx, q.cfg.SummaryTimeout)
		merged, err := q.summariser.Summarise(sumCtx, q.summary, evicted)
		cancel()
		switch {
		case err != nil:
			q.logger.Warn("queue: summariser failed, using transcript merge", "user_id", q.userID, "err", err)
		case merged == "":
			q.logger.Warn("queue: summariser returned empty summary, using transcript merge", "user_id", q.userID)
		case estimateText(merged) > ceiling:
			q.logger.Warn("queue: summary larger than evicted text, using transcript merge",
				"user_id", q.userID, "summary_tokens", estimateText(merged), "ceiling", ceiling)
		default:
			next = merged
			method = "llm"
		}
	}

	remaining := make([]Message, keep, keep+q.cfg.MinFlushMessages)
	copy(remaining, q.messages[n-keep:])
	q.messages = remaining
	q.summary = next
	metrics.FlushesTotal.WithLabelValues(method).Inc()

	q.logger.Info("queue: flushed",
		"user_id", q.userID, "evicted", len(evicted), "remaining", keep, "method", method)

	q.persistLocked(ctx)
	return FlushResult{Flushed: true, Evicted: len(evicted), Remaining: keep, Method: method}
}

func (q *WorkingQueue) mirror(ctx context.Context, msg Message) {
	if q.recall == nil {
		return
	}
	text := msg.Text()
	if text == "" {
		return
	}
	meta := map[string]any{
		"role":      string(msg.Role),
		"timestamp": msg.Timestamp.Format(time.RFC3339),
	}
	if op := msg.Operation(); op != "" {
		meta[MetaOperation] = op
	}
	insertCtx, cancel := context.WithTimeout(ctx, q.cfg.MirrorTimeout)
	defer cancel()
	if _, err := q.recall.Insert(insertCtx, q.userID, text, meta); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("recall").Inc()
		q.logger.Warn("queue: recall mirror failed", "user_id", q.userID, "err", err)
	}
}

func (q *WorkingQueue) persist(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked(ctx)
}

// persistLocked must be called with mu held.
func (q *WorkingQueue) persistLocked(ctx context.Context) {
	if q.sessions == nil {
		return
	}
	msgs := make([]Message, len(q.messages))
	copy(msgs, q.messages)
	st := SessionState{
		UserID:    q.userID,
		Messages:  msgs,
		Summary:   q.summary,
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.sessions.SaveSession(ctx, st); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("session").Inc()
		q.logger.Warn("queue: persist session failed", "user_id", q.userID, "err", err)
	}
}
