// Package config loads Kioku's configuration: built-in defaults, then an
// optional YAML file, then environment overrides, then validation.
//
// Environment variables:
//
//	KIOKU_DB_PATH            SQLite database path
//	KIOKU_METRICS_ADDR       /metrics listen address (disabled when empty)
//	KIOKU_VECTOR_BACKEND     "sqlite" or "pgvector"
//	KIOKU_POSTGRES_DSN       PostgreSQL DSN for pgvector
//	KIOKU_SESSION_BACKEND    "sqlite" or "redis"
//	KIOKU_REDIS_URL          Redis URL for session state
//	KIOKU_SESSION_TTL        Redis session TTL (e.g. "720h")
//	KIOKU_MAX_CONTEXT_TOKENS context budget in estimated tokens
//	KIOKU_WARNING_FRACTION   memory pressure threshold (0..1)
//	KIOKU_FLUSH_FRACTION     queue flush threshold (0..1)
//	KIOKU_MAX_ROUNDS         inference rounds per turn
//	LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, LLM_MAX_TOKENS, LLM_TIMEOUT
//	EMBED_PROVIDER, EMBED_API_KEY, EMBED_BASE_URL, EMBED_MODEL, EMBED_DIMENSIONS
//	LOG_LEVEL, LOG_FORMAT, LOG_ADD_SOURCE
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kioku/common/environment"
)

// Config is the full runtime configuration.
type Config struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
	MetricsAddr  string `yaml:"metrics_addr"`

	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Session   SessionConfig   `yaml:"session"`
	Memory    MemoryConfig    `yaml:"memory"`
	Agent     AgentConfig     `yaml:"agent"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	// AddSource adds the calling file and line to every record.
	AddSource bool `yaml:"add_source"`
}

type LLMConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	Model     string        `yaml:"model" validate:"required"`
	MaxTokens int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

type EmbeddingConfig struct {
	// Provider is "openai" or "hash" (local feature hashing, no network).
	Provider   string `yaml:"provider" validate:"oneof=openai hash"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions" validate:"gte=0"`
}

type VectorConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=sqlite pgvector"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Backend pgvector"`
}

type SessionConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=sqlite redis"`
	RedisURL string        `yaml:"redis_url" validate:"required_if=Backend redis"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

type MemoryConfig struct {
	MaxContextTokens  int     `yaml:"max_context_tokens" validate:"gt=0"`
	WarningFraction   float64 `yaml:"warning_fraction" validate:"gt=0,lt=1"`
	FlushFraction     float64 `yaml:"flush_fraction" validate:"gtfield=WarningFraction,lte=1"`
	MinFlushMessages  int     `yaml:"min_flush_messages" validate:"gte=2"`
	CoreFieldMaxChars int     `yaml:"core_field_max_chars" validate:"gt=0"`
	RecallPageSize    int     `yaml:"recall_page_size" validate:"gt=0"`
	ArchivalPageSize  int     `yaml:"archival_page_size" validate:"gt=0"`
	SummaryMaxTokens  int     `yaml:"summary_max_tokens" validate:"gte=0"`
}

type AgentConfig struct {
	MaxRounds        int           `yaml:"max_rounds" validate:"gt=0"`
	PromptWindow     int           `yaml:"prompt_window" validate:"gt=0"`
	InferenceTimeout time.Duration `yaml:"inference_timeout" validate:"gte=0"`
	ToolTimeout      time.Duration `yaml:"tool_timeout" validate:"gte=0"`
	Instructions     string        `yaml:"instructions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath: "kioku.db",
		Log:          LogConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{Provider: "hash", Model: "text-embedding-3-small", Dimensions: 512},
		Vector:    VectorConfig{Backend: "sqlite"},
		Session:   SessionConfig{Backend: "sqlite", TTL: 30 * 24 * time.Hour},
		Memory: MemoryConfig{
			MaxContextTokens:  8000,
			WarningFraction:   0.7,
			FlushFraction:     0.9,
			MinFlushMessages:  10,
			CoreFieldMaxChars: 2000,
			RecallPageSize:    10,
			ArchivalPageSize:  5,
			SummaryMaxTokens:  512,
		},
		Agent: AgentConfig{
			MaxRounds:        10,
			PromptWindow:     20,
			InferenceTimeout: 60 * time.Second,
			ToolTimeout:      20 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields whose environment variable is set.
func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("KIOKU_DB_PATH", c.DatabasePath)
	c.MetricsAddr = environment.StringOr("KIOKU_METRICS_ADDR", c.MetricsAddr)

	c.Log.Level = strings.ToLower(environment.StringOr("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(environment.StringOr("LOG_FORMAT", c.Log.Format))
	c.Log.AddSource = environment.BoolOr("LOG_ADD_SOURCE", c.Log.AddSource)

	c.LLM.APIKey = environment.StringOr("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = environment.StringOr("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = environment.StringOr("LLM_MODEL", c.LLM.Model)
	c.LLM.MaxTokens = environment.IntOr("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Timeout = environment.DurationOr("LLM_TIMEOUT", c.LLM.Timeout)

	c.Embedding.Provider = environment.StringOr("EMBED_PROVIDER", c.Embedding.Provider)
	c.Embedding.APIKey = environment.StringOr("EMBED_API_KEY", c.Embedding.APIKey)
	c.Embedding.BaseURL = environment.StringOr("EMBED_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = environment.StringOr("EMBED_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = environment.IntOr("EMBED_DIMENSIONS", c.Embedding.Dimensions)

	c.Vector.Backend = environment.StringOr("KIOKU_VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.PostgresDSN = environment.StringOr("KIOKU_POSTGRES_DSN", c.Vector.PostgresDSN)

	c.Session.Backend = environment.StringOr("KIOKU_SESSION_BACKEND", c.Session.Backend)
	c.Session.RedisURL = environment.StringOr("KIOKU_REDIS_URL", c.Session.RedisURL)
	c.Session.TTL = environment.DurationOr("KIOKU_SESSION_TTL", c.Session.TTL)

	c.Memory.MaxContextTokens = environment.IntOr("KIOKU_MAX_CONTEXT_TOKENS", c.Memory.MaxContextTokens)
	c.Memory.WarningFraction = environment.FloatOr("KIOKU_WARNING_FRACTION", c.Memory.WarningFraction)
	c.Memory.FlushFraction = environment.FloatOr("KIOKU_FLUSH_FRACTION", c.Memory.FlushFraction)

	c.Agent.MaxRounds = environment.IntOr("KIOKU_MAX_ROUNDS", c.Agent.MaxRounds)

	// The embedding endpoint usually shares the chat credentials.
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.APIKey
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.LLM.BaseURL
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s fails %s", field, fe.Tag())
}
