package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
)

// DefaultTimeout bounds each collaborator call made by an operation.
const DefaultTimeout = 20 * time.Second

// Status is the outcome class of an executed operation.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Result is the value produced by every execution. Execute never panics or
// returns an error; failures are Results with StatusError.
type Result struct {
	Operation string
	CallID    string
	Status    Status
	Payload   any
	Err       error
	// Heartbeat asks the loop for another inference round.
	Heartbeat bool
	// Terminal is set for send_message; Reply holds the text.
	Terminal bool
	Reply    string
}

// Content renders the result as the JSON body of the tool-result message.
func (r Result) Content() string {
	body := map[string]any{"status": r.Status}
	if r.Err != nil {
		body["error"] = r.Err.Error()
	}
	if r.Payload != nil {
		body["result"] = r.Payload
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"error":"unencodable result"}`, r.Status)
	}
	return string(data)
}

// Message converts the result into the queue entry the next round sees.
func (r Result) Message() memory.Message {
	msg := memory.NewMessage(llm.RoleTool, r.Content())
	msg.Metadata = map[string]string{
		memory.MetaOperation: r.Operation,
		memory.MetaStatus:    string(r.Status),
	}
	if r.CallID != "" {
		msg.Metadata[memory.MetaToolCallID] = r.CallID
	}
	return msg
}

// DispatcherConfig holds dispatcher tunables.
type DispatcherConfig struct {
	// Timeout bounds each store/embedding call. Default: 20s.
	Timeout time.Duration
}

// Dispatcher executes operations for one user session.
type Dispatcher struct {
	userID   string
	core     *memory.Core
	queue    *memory.WorkingQueue
	recall   *memory.Index
	archival *memory.Index
	defs     []*opDef
	byName   map[string]*opDef
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher and compiles the operation schemas.
func NewDispatcher(userID string, core *memory.Core, queue *memory.WorkingQueue, recall, archival *memory.Index, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	recallPage, archivalPage := memory.DefaultRecallPageSize, memory.DefaultArchivalPageSize
	if recall != nil {
		recallPage = recall.PageSize()
	}
	if archival != nil {
		archivalPage = archival.PageSize()
	}
	defs := buildDefs(recallPage, archivalPage)
	if err := compileDefs(defs); err != nil {
		return nil, err
	}

	byName := make(map[string]*opDef, len(defs))
	for _, s := range defs {
		byName[s.name] = s
	}
	return &Dispatcher{
		userID:   userID,
		core:     core,
		queue:    queue,
		recall:   recall,
		archival: archival,
		defs:     defs,
		byName:   byName,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Definitions returns the operations advertised to the model, in a stable
// order.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(d.defs))
	for _, s := range d.defs {
		defs = append(defs, s.definition())
	}
	return defs
}

// Parse maps a tool call onto its Operation variant. Names outside the set
// yield UnknownOperation with a nil error.
func (d *Dispatcher) Parse(call llm.ToolCall) (Operation, error) {
	s, ok := d.byName[call.Function.Name]
	if !ok {
		return UnknownOperation{Requested: call.Function.Name}, nil
	}
	return s.parse(call.Function.Arguments)
}

// Execute parses, runs and records one tool call. The tool-result message is
// appended to the working queue before Execute returns.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall) Result {
	var res Result
	op, err := d.Parse(call)
	if err != nil {
		res = errorResult(call.Function.Name, err)
	} else {
		res = d.run(ctx, op)
	}
	res.CallID = call.ID

	metrics.ToolCallsTotal.WithLabelValues(metricLabel(res.Operation, d.byName), string(res.Status)).Inc()
	log := observability.WithTrace(ctx, d.logger)
	logAttrs := []any{"user_id", d.userID, "operation", res.Operation, "status", res.Status, "heartbeat", res.Heartbeat}
	if res.Err != nil {
		log.Warn("tools: operation failed", append(logAttrs, "err", res.Err)...)
	} else {
		log.Debug("tools: operation executed", logAttrs...)
	}

	if d.queue != nil {
		d.queue.Append(ctx, res.Message())
	}
	return res
}

// run is the total mapping from operation variant to handler.
func (d *Dispatcher) run(ctx context.Context, op Operation) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch o := op.(type) {
	case CoreMemoryAppend:
		value, err := d.core.Append(ctx, o.Field, o.Content)
		if err != nil {
			return errorResult(o.Name(), err)
		}
		return okResult(o, map[string]any{"field": o.Field, "value": value})

	case CoreMemoryReplace:
		outcome, err := d.core.Replace(ctx, o.Field, o.OldContent, o.NewContent)
		if err != nil {
			return errorResult(o.Name(), err)
		}
		res := okResult(o, map[string]any{"field": o.Field, "outcome": outcome})
		if outcome == memory.OutcomeNotFound {
			res.Status = StatusNotFound
		}
		return res

	case ConversationSearch:
		return d.search(ctx, o, d.recall, o.Query, o.Page)

	case ArchivalMemorySearch:
		return d.search(ctx, o, d.archival, o.Query, o.Page)

	case ArchivalMemoryInsert:
		if d.archival == nil {
			return errorResult(o.Name(), errors.New("archival memory is not configured"))
		}
		meta := o.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["timestamp"]; !ok {
			meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		id, err := d.archival.Insert(ctx, d.userID, o.Content, meta)
		if err != nil {
			return errorResult(o.Name(), err)
		}
		return okResult(o, map[string]any{"id": id})

	case SendMessage:
		res := okResult(o, nil)
		res.Terminal = true
		res.Reply = o.Message
		return res

	case UnknownOperation:
		return errorResult(o.Requested, fmt.Errorf("%w: %q", ErrUnknownOperation, o.Requested))
	}
	return errorResult(op.Name(), fmt.Errorf("%w: %q", ErrUnknownOperation, op.Name()))
}

func (d *Dispatcher) search(ctx context.Context, op Operation, idx *memory.Index, query string, page int) Result {
	if idx == nil {
		return errorResult(op.Name(), fmt.Errorf("%s is not configured", op.Name()))
	}
	if page < 1 {
		page = 1
	}
	results, err := idx.Search(ctx, d.userID, query, page)
	if err != nil {
		return errorResult(op.Name(), err)
	}
	total, err := idx.Count(ctx, d.userID)
	if err != nil {
		observability.WithTrace(ctx, d.logger).Warn("tools: count failed", "operation", op.Name(), "err", err)
		total = len(results)
	}
	pages := (total + idx.PageSize() - 1) / idx.PageSize()
	if results == nil {
		results = []memory.SearchResult{}
	}
	return okResult(op, map[string]any{
		"page":    page,
		"pages":   pages,
		"total":   total,
		"results": results,
	})
}

func okResult(op Operation, payload any) Result {
	return Result{
		Operation: op.Name(),
		Status:    StatusOK,
		Payload:   payload,
		Heartbeat: op.Heartbeat(),
	}
}

// errorResult always requests a heartbeat so the model can react.
func errorResult(name string, err error) Result {
	return Result{
		Operation: name,
		Status:    StatusError,
		Err:       err,
		Heartbeat: true,
	}
}

// metricLabel keeps label cardinality bounded for made-up operation names.
func metricLabel(name string, known map[string]*opDef) string {
	if _, ok := known[name]; ok {
		return name
	}
	return "unknown"
}
