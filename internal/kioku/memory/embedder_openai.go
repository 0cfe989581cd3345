package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/retry"
)

// ErrEmbeddingShape is returned when the embeddings endpoint answers with the
// wrong number of vectors or a vector of the wrong width.
var ErrEmbeddingShape = errors.New("embedding response has unexpected shape")

// OpenAIEmbedderConfig configures the embeddings endpoint client.
type OpenAIEmbedderConfig struct {
	APIKey string
	// BaseURL defaults to https://api.openai.com/v1. Any server exposing
	// POST /embeddings in the OpenAI format works.
	BaseURL string
	// Model defaults to text-embedding-3-small.
	Model string
	// Dimensions is requested from the endpoint and enforced on every
	// response. Zero lets the first response fix the width.
	Dimensions int
	// Timeout bounds one HTTP attempt. Default: 30s.
	Timeout time.Duration
	// Retry controls retries of rate-limited and 5xx responses.
	// Default: retry.DefaultConfig.
	Retry retry.Config
}

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings
// endpoint. Safe for concurrent use.
type OpenAIEmbedder struct {
	cfg    OpenAIEmbedderConfig
	client *http.Client
	width  atomic.Int64
}

// NewOpenAIEmbedder applies defaults to cfg.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.Op = "embed"

	e := &OpenAIEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	e.width.Store(int64(cfg.Dimensions))
	return e
}

// Embed returns nil without calling the endpoint when text has no words.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(embedWords(text)) == 0 {
		return nil, nil
	}
	var vec []float32
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		v, err := e.post(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// post makes one request. Client errors and malformed responses are marked
// permanent; rate limits, 5xx and transport failures are retried.
func (e *OpenAIEmbedder) post(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{"input": text, "model": e.cfg.Model}
	if e.cfg.Dimensions > 0 {
		payload["dimensions"] = e.cfg.Dimensions
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("embedder openai: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("embedder openai: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder openai: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder openai: read response: %w", err)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = redact.String(out.Error.Message, e.cfg.APIKey)
		}
		err := fmt.Errorf("embedder openai: HTTP %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}
	if decodeErr != nil {
		return nil, retry.Permanent(fmt.Errorf("embedder openai: decode response: %w", decodeErr))
	}
	if out.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("embedder openai: %s", redact.String(out.Error.Message, e.cfg.APIKey)))
	}

	if len(out.Data) != 1 || out.Data[0].Index != 0 {
		return nil, retry.Permanent(fmt.Errorf("%w: %d vectors for one input", ErrEmbeddingShape, len(out.Data)))
	}
	vec := out.Data[0].Embedding
	if err := e.checkWidth(len(vec)); err != nil {
		return nil, retry.Permanent(err)
	}
	return vec, nil
}

// checkWidth pins the vector width on first use and rejects any change.
func (e *OpenAIEmbedder) checkWidth(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingShape)
	}
	if e.width.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := e.width.Load(); int64(n) != want {
		return fmt.Errorf("%w: width %d, want %d", ErrEmbeddingShape, n, want)
	}
	return nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
