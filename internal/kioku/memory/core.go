package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

// CoreField names one field of CoreMemory.
type CoreField string

const (
	FieldPersona                CoreField = "persona"
	FieldUserProfile            CoreField = "user_profile"
	FieldTravelStyle            CoreField = "travel_style"
	FieldBudgetRange            CoreField = "budget_range"
	FieldDietaryRestrictions    CoreField = "dietary_restrictions"
	FieldAccessibilityNeeds     CoreField = "accessibility_needs"
	FieldPreferredAccommodation CoreField = "preferred_accommodation"
)

var coreFields = []CoreField{
	FieldPersona,
	FieldUserProfile,
	FieldTravelStyle,
	FieldBudgetRange,
	FieldDietaryRestrictions,
	FieldAccessibilityNeeds,
	FieldPreferredAccommodation,
}

// CoreFields returns the field names in render order.
func CoreFields() []CoreField {
	out := make([]CoreField, len(coreFields))
	copy(out, coreFields)
	return out
}

// ParseCoreField validates a field name.
func ParseCoreField(name string) (CoreField, error) {
	for _, f := range coreFields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedField, name)
}

const (
	DefaultPersona     = "I am a helpful travel planning assistant."
	DefaultUserProfile = "I am a new user. Please ask me about my travel preferences."

	// DefaultCoreFieldMaxChars bounds every core memory field.
	DefaultCoreFieldMaxChars = 2000
)

// CoreMemory is the always-in-context record kept per user.
type CoreMemory struct {
	Persona                string `json:"persona"`
	UserProfile            string `json:"user_profile"`
	TravelStyle            string `json:"travel_style,omitempty"`
	BudgetRange            string `json:"budget_range,omitempty"`
	DietaryRestrictions    string `json:"dietary_restrictions,omitempty"`
	AccessibilityNeeds     string `json:"accessibility_needs,omitempty"`
	PreferredAccommodation string `json:"preferred_accommodation,omitempty"`
}

// DefaultCoreMemory returns the record a new user starts with.
func DefaultCoreMemory() CoreMemory {
	return CoreMemory{Persona: DefaultPersona, UserProfile: DefaultUserProfile}
}

func (c *CoreMemory) field(f CoreField) *string {
	switch f {
	case FieldPersona:
		return &c.Persona
	case FieldUserProfile:
		return &c.UserProfile
	case FieldTravelStyle:
		return &c.TravelStyle
	case FieldBudgetRange:
		return &c.BudgetRange
	case FieldDietaryRestrictions:
		return &c.DietaryRestrictions
	case FieldAccessibilityNeeds:
		return &c.AccessibilityNeeds
	case FieldPreferredAccommodation:
		return &c.PreferredAccommodation
	}
	return nil
}

// Get returns the value of f, or "" for an unknown field.
func (c CoreMemory) Get(f CoreField) string {
	if p := c.field(f); p != nil {
		return *p
	}
	return ""
}

// Render formats the record as it appears in the system prompt. Empty
// optional fields are omitted.
func (c CoreMemory) Render() string {
	var b strings.Builder
	for _, f := range coreFields {
		v := c.Get(f)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<%s>\n%s\n</%s>", f, v, f)
	}
	return b.String()
}

// CoreStore persists one CoreMemory per user.
type CoreStore interface {
	// LoadCore returns the stored record and whether one existed.
	LoadCore(ctx context.Context, userID string) (CoreMemory, bool, error)
	// SaveCore writes the full record.
	SaveCore(ctx context.Context, userID string, rec CoreMemory) error
}

// ReplaceOutcome records what a replace did.
type ReplaceOutcome string

const (
	OutcomeReplaced ReplaceOutcome = "replaced"
	OutcomeNotFound ReplaceOutcome = "not_found"
)

// Core guards one user's CoreMemory. Both mutations validate before they
// touch the record and persist the full record afterwards. It is safe for
// concurrent use.
type Core struct {
	mu       sync.Mutex
	userID   string
	rec      CoreMemory
	store    CoreStore
	maxChars int
	logger   *slog.Logger
}

// LoadCore reads the user's record from store, creating and persisting the
// defaults when none exists. maxChars <= 0 selects DefaultCoreFieldMaxChars.
// A nil store keeps the record in memory only.
func LoadCore(ctx context.Context, store CoreStore, userID string, maxChars int, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChars <= 0 {
		maxChars = DefaultCoreFieldMaxChars
	}
	c := &Core{
		userID:   userID,
		rec:      DefaultCoreMemory(),
		store:    store,
		maxChars: maxChars,
		logger:   logger,
	}
	if store == nil {
		return c, nil
	}

	rec, found, err := store.LoadCore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("core memory: load %s: %w", userID, err)
	}
	if found {
		c.rec = rec
		return c, nil
	}
	c.persist(ctx)
	logger.Info("core memory: created default record", "user_id", userID)
	return c, nil
}

// Snapshot returns a copy of the current record.
func (c *Core) Snapshot() CoreMemory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// Render is Snapshot().Render().
func (c *Core) Render() string {
	return c.Snapshot().Render()
}

// Append concatenates content to field after a newline and returns the
// field's new value.
func (c *Core) Append(ctx context.Context, field, content string) (string, error) {
	f, err := ParseCoreField(field)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content must not be empty", ErrInvalidArgument)
	}

	c.mu.Lock()
	p := c.rec.field(f)
	next := content
	if *p != "" {
		next = *p + "\n" + content
	}
	if utf8.RuneCountInString(next) > c.maxChars {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s would be %d chars (limit %d)",
			ErrCoreMemoryFull, f, utf8.RuneCountInString(next), c.maxChars)
	}
	*p = next
	c.mu.Unlock()

	c.persist(ctx)
	return next, nil
}

// Replace substitutes every occurrence of oldContent in field with
// newContent. When oldContent is absent the record is left untouched and
// OutcomeNotFound is returned with a nil error.
func (c *Core) Replace(ctx context.Context, field, oldContent, newContent string) (ReplaceOutcome, error) {
	f, err := ParseCoreField(field)
	if err != nil {
		return "", err
	}
	if oldContent == "" {
		return "", fmt.Errorf("%w: old_content must not be empty", ErrInvalidArgument)
	}

	c.mu.Lock()
	p := c.rec.field(f)
	if !strings.Contains(*p, oldContent) {
		c.mu.Unlock()
		return OutcomeNotFound, nil
	}
	next := strings.ReplaceAll(*p, oldContent, newContent)
	if utf8.RuneCountInString(next) > c.maxChars {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s would be %d chars (limit %d)",
			ErrCoreMemoryFull, f, utf8.RuneCountInString(next), c.maxChars)
	}
	*p = next
	c.mu.Unlock()

	c.persist(ctx)
	return OutcomeReplaced, nil
}

// persist writes the current record. Failures are logged, not returned.
func (c *Core) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	rec := c.Snapshot()
	if err := c.store.SaveCore(ctx, c.userID, rec); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("core").Inc()
		c.logger.Warn("core memory: persist failed", "user_id", c.userID, "err", err)
	}
}
