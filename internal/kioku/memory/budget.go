package memory

import "unicode/utf8"

const (
	charsPerToken      = 4
	perMessageOverhead = 4 // role label, delimiters
)

// BudgetConfig holds the context budget thresholds.
type BudgetConfig struct {
	// MaxTokens is the estimated context capacity. Default: 8000.
	MaxTokens int
	// WarningFraction of MaxTokens above which a memory pressure warning is
	// raised. Default: 0.7.
	WarningFraction float64
	// FlushFraction of MaxTokens above which the queue must be flushed.
	// Default: 0.9.
	FlushFraction float64
}

// DefaultBudgetConfig returns the documented defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxTokens:       8000,
		WarningFraction: 0.7,
		FlushFraction:   0.9,
	}
}

// Usage is the result of checking an estimate against the budget.
type Usage struct {
	Estimate  int  `json:"estimate"`
	Max       int  `json:"max"`
	Warning   bool `json:"warning"`
	MustFlush bool `json:"must_flush"`
}

// Fraction returns Estimate/Max.
func (u Usage) Fraction() float64 {
	if u.Max == 0 {
		return 0
	}
	return float64(u.Estimate) / float64(u.Max)
}

// Budget estimates context size. It holds no state beyond its config and is
// safe for concurrent use.
type Budget struct {
	cfg BudgetConfig
}

// NewBudget creates a Budget, filling zero fields from DefaultBudgetConfig.
func NewBudget(cfg BudgetConfig) *Budget {
	def := DefaultBudgetConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.WarningFraction <= 0 {
		cfg.WarningFraction = def.WarningFraction
	}
	if cfg.FlushFraction <= 0 {
		cfg.FlushFraction = def.FlushFraction
	}
	return &Budget{cfg: cfg}
}

// Config returns the effective configuration.
func (b *Budget) Config() BudgetConfig { return b.cfg }

// Estimate returns the approximate token cost of a prompt built from the
// given system text, rendered core memory, queue summary and queue.
func (b *Budget) Estimate(system, core, summary string, queue []Message) int {
	return estimateText(system) + estimateText(core) + estimateText(summary) + estimateMessages(queue)
}

// Check derives the threshold flags for an estimate.
func (b *Budget) Check(estimate int) Usage {
	maxTokens := float64(b.cfg.MaxTokens)
	return Usage{
		Estimate:  estimate,
		Max:       b.cfg.MaxTokens,
		Warning:   float64(estimate) > maxTokens*b.cfg.WarningFraction,
		MustFlush: float64(estimate) > maxTokens*b.cfg.FlushFraction,
	}
}

// Measure is Check(Estimate(...)).
func (b *Budget) Measure(system, core, summary string, queue []Message) Usage {
	return b.Check(b.Estimate(system, core, summary, queue))
}

func estimateText(s string) int {
	return utf8.RuneCountInString(s) / charsPerToken
}

func estimateMessage(m Message) int {
	return (utf8.RuneCountInString(string(m.Role))+utf8.RuneCountInString(m.Text()))/charsPerToken + perMessageOverhead
}

func estimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateMessage(m)
	}
	return total
}
