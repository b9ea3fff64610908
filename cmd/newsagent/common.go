package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/newsagent/orchestrator/internal/config"
	"github.com/newsagent/orchestrator/internal/observability"
	"github.com/newsagent/orchestrator/internal/storage"
)

// newLogger builds the shared slog.Logger every process uses, text-handler
// by default and JSON when LOG_FORMAT=json, matching the teacher's
// observability conventions for structured, leveled logging instead of the
// standard library's bare log package.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// connectRedis parses REDIS_URL and dials a client, failing fast since every
// process depends on the queue or the governance gate being reachable.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// connectStore dials MongoDB through the shared storage.Store.
func connectStore(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*storage.Store, error) {
	return storage.Connect(ctx, cfg.URI, cfg.Database, logger)
}

// newMetrics builds a fresh Prometheus registry and bound Metrics for one
// process. Each process (api/scheduler/worker) gets its own registry rather
// than sharing a global one, since they never run in the same binary
// instance.
func newMetrics() (*observability.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.New(reg), reg
}

// serveMetrics starts the Prometheus scrape endpoint in the background if
// metrics are enabled, logging (not fataling) on a bind failure since the
// scrape endpoint is an operational nicety, not a correctness dependency.
func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	if !cfg.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", cfg.Addr)
}
