// Package metrics declares the Prometheus collectors exported by Kioku and
// an optional /metrics HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_turns_total",
			Help: "Agent turns by terminal outcome.",
		},
		[]string{"outcome"},
	)

	InferenceRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioku_inference_rounds",
			Help:    "Inference rounds used per turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	InferenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kioku_inference_failures_total",
			Help: "Inference calls that failed after retry.",
		},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_tool_calls_total",
			Help: "Executed memory operations by name and status.",
		},
		[]string{"operation", "status"},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_queue_flushes_total",
			Help: "Working queue flushes by summary method.",
		},
		[]string{"method"},
	)

	ContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioku_context_tokens_estimate",
			Help:    "Estimated context size at prompt assembly.",
			Buckets: prometheus.ExponentialBuckets(250, 2, 8),
		},
	)

	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_persistence_failures_total",
			Help: "Best-effort store writes that failed.",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(
		TurnsTotal,
		InferenceRounds,
		InferenceFailuresTotal,
		ToolCallsTotal,
		FlushesTotal,
		ContextTokens,
		PersistenceFailuresTotal,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
