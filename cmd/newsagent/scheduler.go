package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newsagent/orchestrator/internal/browserpool"
	"github.com/newsagent/orchestrator/internal/config"
	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/notifier"
	"github.com/newsagent/orchestrator/internal/scheduler"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the periodic discovery loop over configured sources",
		RunE:  runScheduler,
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	gate := governance.New(rdb, store, cfg.Browser.UserAgent, logger)

	pool, err := browserpool.New(browserpool.Config{
		Capacity:   int(cfg.Browser.Capacity),
		WSEndpoint: cfg.Browser.WSEndpoint,
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.Browser.NavTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, reg := newMetrics()
	serveMetrics(cfg.Metrics, reg, logger)

	notify := notifier.New(cfg.SMTP.Server, cfg.SMTP.Port, cfg.SMTP.Email, cfg.SMTP.Password, cfg.SMTP.Email, cfg.SMTP.Recipients, logger)

	sched := scheduler.New(store, gate, pool, notify, scheduler.Config{
		APIURL:   cfg.API.SubmitURL,
		APIKey:   cfg.API.APIKey,
		Interval: time.Minute,
	}, logger)

	logger.Info("scheduler running", "interval", "1m")
	sched.Run(ctx)
	logger.Info("scheduler stopped")
	return nil
}
