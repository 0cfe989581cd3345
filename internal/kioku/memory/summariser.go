package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
)

const summariserSystemPrompt = "You maintain the running summary of a conversation between a travel " +
	"planning assistant and a user. Keep every fact from the previous summary unless a newer " +
	"message contradicts it. Reply with the updated summary only."

// LLMSummariserConfig configures LLMSummariser.
type LLMSummariserConfig struct {
	// Model overrides the provider's default model.
	Model string
	// MaxTokens caps the summary length. Default: 512.
	MaxTokens int
}

// LLMSummariser merges summaries through the inference collaborator.
type LLMSummariser struct {
	provider llm.Provider
	cfg      LLMSummariserConfig
}

// NewLLMSummariser creates a summariser that is safe for concurrent use when
// provider is.
func NewLLMSummariser(provider llm.Provider, cfg LLMSummariserConfig) *LLMSummariser {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &LLMSummariser{provider: provider, cfg: cfg}
}

// Summarise asks the model for merge(previous, evicted).
func (s *LLMSummariser) Summarise(ctx context.Context, previous string, evicted []Message) (string, error) {
	if len(evicted) == 0 {
		return previous, nil
	}

	prev := previous
	if prev == "" {
		prev = "(none)"
	}
	prompt := fmt.Sprintf("Previous summary: %s\n\nNew messages to summarize:\n%s\n\n"+
		"Create a concise summary combining the previous summary with new messages. "+
		"Focus on user preferences, requests, and important context.",
		prev, formatTranscript(evicted))

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model: s.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summariserSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summariser llm: %w", err)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

var _ Summariser = (*LLMSummariser)(nil)

// MergeSummary is the lossless merge used when no summariser is available
// or the summariser's output is unusable: the previous summary followed by
// the evicted transcript.
func MergeSummary(previous string, evicted []Message) string {
	transcript := formatTranscript(evicted)
	switch {
	case transcript == "":
		return previous
	case previous == "":
		return transcript
	}
	return previous + "\n" + transcript
}
