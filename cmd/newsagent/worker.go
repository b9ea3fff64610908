package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newsagent/orchestrator/internal/browserpool"
	"github.com/newsagent/orchestrator/internal/config"
	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/llm"
	"github.com/newsagent/orchestrator/internal/notifier"
	"github.com/newsagent/orchestrator/internal/pipeline"
	"github.com/newsagent/orchestrator/internal/queue"
	"github.com/newsagent/orchestrator/internal/search"
	"github.com/newsagent/orchestrator/internal/storage"
	"github.com/newsagent/orchestrator/internal/webhook"
	"github.com/newsagent/orchestrator/internal/worker"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the work queue, running each job through the enrichment pipeline",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// C3: load the full required prompt set and category taxonomy once at
	// startup; a deploy missing either never begins draining the queue.
	prompts, err := store.LoadPrompts(ctx)
	if err != nil {
		return err
	}
	if err := storage.ValidateRequiredPrompts(prompts); err != nil {
		return err
	}
	categoryMapping, err := store.LoadCategoryMapping(ctx)
	if err != nil {
		return err
	}

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

	llmClient, err := llm.New(llm.Config{
		Provider:    llm.Provider(cfg.LLM.Provider),
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return err
	}

	var searchClient search.Client
	if cfg.Search.Endpoint != "" {
		searchClient = search.NewHTTPClient(cfg.Search.Endpoint, cfg.Search.APIKey, cfg.Search.MaxResults)
	}

	var webhookSink *webhook.Sink
	if cfg.Webhook.URL != "" {
		webhookSink = webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.MaxRetries, logger)
	}

	notify := notifier.New(cfg.SMTP.Server, cfg.SMTP.Port, cfg.SMTP.Email, cfg.SMTP.Password, cfg.SMTP.Email, cfg.SMTP.Recipients, logger)

	deps := &pipeline.Deps{
		Gate:            gate,
		Renderer:        pool,
		LLM:             llmClient,
		Search:          searchClient,
		Webhook:         webhookSink,
		Prompts:         prompts,
		CategoryMapping: categoryMapping,
		UserAgent:       cfg.Browser.UserAgent,
		Logger:          logger,
	}

	metrics, reg := newMetrics()
	serveMetrics(cfg.Metrics, reg, logger)

	q := queue.New(rdb)
	w := worker.New(q, store, notify, deps, metrics, logger)

	logger.Info("worker running")
	w.Run(ctx)
	logger.Info("worker stopped")
	return nil
}
