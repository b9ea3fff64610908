package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newsagent/orchestrator/internal/api"
	"github.com/newsagent/orchestrator/internal/config"
	"github.com/newsagent/orchestrator/internal/queue"
)

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the job submission/status/queue-ops HTTP API",
		RunE:  runAPI,
	}
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	rdb, err := connectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store, err := connectStore(ctx, cfg.Mongo, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	q := queue.New(rdb)
	server := api.New(q, store, cfg.API.APIKey, logger)

	_, reg := newMetrics()
	serveMetrics(cfg.Metrics, reg, logger)

	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("job api listening", "addr", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down job api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
