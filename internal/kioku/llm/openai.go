package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/retry"
)

const (
	defaultOpenAIBase    = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible chat completions adapter.
type OpenAIConfig struct {
	// APIKey is sent as a bearer token.
	APIKey string
	// BaseURL overrides the endpoint, e.g. "http://localhost:11434/v1" for a
	// local Ollama. Defaults to https://api.openai.com/v1.
	BaseURL string
	// Model is used when CompletionRequest.Model is empty.
	Model string
	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// OpenAI implements Provider against the chat completions API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI API) ---

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content"` // string or null
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func toWire(m Message) oaiMessage {
	om := oaiMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
	}
	// Only tool results carry a name.
	if m.Role == RoleTool {
		om.Name = m.Name
	}
	if m.Content != "" {
		om.Content = m.Content
	}
	for _, tc := range m.ToolCalls {
		typ := tc.Type
		if typ == "" {
			typ = "function"
		}
		om.ToolCalls = append(om.ToolCalls, oaiToolCall{
			ID:       tc.ID,
			Type:     typ,
			Function: oaiFunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return om
}

func fromWire(om oaiMessage) Message {
	msg := Message{Role: Role(om.Role)}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	if s, ok := om.Content.(string); ok {
		msg.Content = s
	}
	for _, tc := range om.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:       tc.ID,
			Type:     tc.Type,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return msg
}

// Complete sends one chat completion request.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := oaiRequest{
		Model:     model,
		Messages:  make([]oaiMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWire(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaiTool{Type: t.Type, Function: t.Function})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm openai: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm openai: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm openai: read response: %w", err)
	}

	var oaiResp oaiResponse
	decodeErr := json.Unmarshal(respBody, &oaiResp)
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("llm openai: unexpected HTTP status %d", resp.StatusCode)
		if decodeErr == nil && oaiResp.Error != nil {
			err = fmt.Errorf("llm openai: API error (HTTP %d, %s): %s",
				resp.StatusCode, oaiResp.Error.Type, redact.String(oaiResp.Error.Message, p.cfg.APIKey))
		}
		return nil, classifyStatus(resp.StatusCode, err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("llm openai: decode response (HTTP %d): %w", resp.StatusCode, decodeErr)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("llm openai: API error (%s): %s", oaiResp.Error.Type, redact.String(oaiResp.Error.Message, p.cfg.APIKey))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("llm openai: no choices in response")
	}

	choice := oaiResp.Choices[0]
	return &CompletionResponse{
		Message:      fromWire(choice.Message),
		FinishReason: choice.FinishReason,
		Usage: TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// classifyStatus marks client errors other than 408 and 429 as not worth
// retrying.
func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return err
	default:
		return retry.Permanent(err)
	}
}

var _ Provider = (*OpenAI)(nil)
