// Package app wires configuration into stores, collaborators and the session
// registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/internal/kioku/agent"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// App owns every long-lived resource of a Kioku process.
type App struct {
	cfg      *config.Config
	db       *store.Store
	pgPool   *pgxpool.Pool
	redis    *redis.Client
	sessions *agent.Sessions
	logger   *slog.Logger
}

// Options override collaborators, mainly for tests.
type Options struct {
	// Provider replaces the OpenAI-compatible client built from cfg.LLM.
	Provider llm.Provider
	// Embedder replaces the embedder selected by cfg.Embedding.
	Embedder memory.Embedder
	Logger   *slog.Logger
}

// New opens the configured backends. Close must be called on success.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg, db: db, logger: logger}

	provider := opts.Provider
	if provider == nil {
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
			logger.Warn("app: LLM_API_KEY is not set; inference calls will fail")
		}
		provider = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = buildEmbedder(cfg.Embedding)
	}

	vectors, err := a.openVectors(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	sessionStore, err := a.openSessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions = agent.NewSessions(agent.Backends{
		Provider:   provider,
		CoreStore:  memory.NewSQLiteCoreStore(db.DB()),
		Sessions:   sessionStore,
		Vectors:    vectors,
		Embedder:   embedder,
		Summariser: memory.NewLLMSummariser(provider, memory.LLMSummariserConfig{Model: cfg.LLM.Model, MaxTokens: cfg.Memory.SummaryMaxTokens}),
	}, sessionsConfig(cfg), logger)

	logger.Info("app: ready",
		"db_path", cfg.DatabasePath,
		"vector_backend", cfg.Vector.Backend,
		"session_backend", cfg.Session.Backend,
		"embedding_provider", cfg.Embedding.Provider,
		"model", cfg.LLM.Model,
	)
	return a, nil
}

// Sessions returns the session registry.
func (a *App) Sessions() *agent.Sessions { return a.sessions }

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// ServeMetrics exposes /metrics until ctx is done. It is a no-op when no
// address is configured.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
			a.logger.Error("app: metrics server stopped", "err", err)
		}
	}()
}

// Close releases every backend. It is safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *App) openVectors(ctx context.Context) (memory.VectorStore, error) {
	switch a.cfg.Vector.Backend {
	case "pgvector":
		pool, err := pgxpool.New(ctx, a.cfg.Vector.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: pgvector pool: %w", err)
		}
		a.pgPool = pool
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("app: pgvector ping %s: %w", redact.DSN(a.cfg.Vector.PostgresDSN), err)
		}
		pg := memory.NewPGVectorStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return pg, nil
	default:
		return memory.NewSQLiteVectorStore(a.db.DB(), a.logger), nil
	}
}

func (a *App) openSessionStore(ctx context.Context) (memory.SessionStore, error) {
	switch a.cfg.Session.Backend {
	case "redis":
		opts, err := redis.ParseURL(a.cfg.Session.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("app: redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: redis ping %s: %w", redact.DSN(a.cfg.Session.RedisURL), err)
		}
		return memory.NewRedisSessionStore(client, a.cfg.Session.TTL), nil
	default:
		return memory.NewSQLiteSessionStore(a.db.DB()), nil
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) memory.Embedder {
	if cfg.Provider == "openai" {
		return memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	}
	return memory.NewHashEmbedder(cfg.Dimensions)
}

func sessionsConfig(cfg *config.Config) agent.SessionsConfig {
	return agent.SessionsConfig{
		Loop: agent.Config{
			MaxRounds:           cfg.Agent.MaxRounds,
			PromptWindow:        cfg.Agent.PromptWindow,
			InferenceTimeout:    cfg.Agent.InferenceTimeout,
			Model:               cfg.LLM.Model,
			MaxCompletionTokens: cfg.LLM.MaxTokens,
			Instructions:        cfg.Agent.Instructions,
		},
		Budget: memory.BudgetConfig{
			MaxTokens:       cfg.Memory.MaxContextTokens,
			WarningFraction: cfg.Memory.WarningFraction,
			FlushFraction:   cfg.Memory.FlushFraction,
		},
		Queue: memory.QueueConfig{
			MinFlushMessages: cfg.Memory.MinFlushMessages,
			SummaryTimeout:   cfg.Agent.InferenceTimeout,
			MirrorTimeout:    cfg.Agent.ToolTimeout,
		},
		CoreFieldMaxChars: cfg.Memory.CoreFieldMaxChars,
		RecallPageSize:    cfg.Memory.RecallPageSize,
		ArchivalPageSize:  cfg.Memory.ArchivalPageSize,
		ToolTimeout:       cfg.Agent.ToolTimeout,
	}
}
