package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donforce/messaging-ai-platform/internal/api/router"
	"github.com/donforce/messaging-ai-platform/internal/app/bootstrap"
	"github.com/donforce/messaging-ai-platform/internal/attribution"
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/internal/http/handlers"
	observemetrics "github.com/donforce/messaging-ai-platform/internal/observability/metrics"
	taskworker "github.com/donforce/messaging-ai-platform/internal/worker/tasks"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildDatabasePool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	readDB, err := bootstrap.BuildReadDB(cfg)
	if err != nil {
		logger.Error("failed to open admin database handle", "error", err)
		os.Exit(1)
	}
	defer readDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	pipeline, err := bootstrap.BuildConversationPipeline(ctx, cfg, pool, redisClient, logger)
	if err != nil {
		logger.Error("failed to wire conversation pipeline", "error", err)
		os.Exit(1)
	}

	outbox := events.NewOutboxStore(pool)
	processed := events.NewProcessedStore(pool)

	queue := bootstrap.BuildTaskQueue(ctx, cfg, logger)
	publisher := bootstrap.BuildTaskPublisher(queue, logger)
	jobStore := bootstrap.BuildJobStore(ctx, cfg, logger)
	signals := bootstrap.BuildAttributionDispatcher(cfg, publisher, logger)

	metricsHandler, messagingMetrics, gatherer := setupMessagingMetrics()

	// The provider signs callbacks with the account auth token unless a
	// dedicated webhook secret is configured.
	webhookSecret := cfg.ProviderWebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.ProviderAuthToken
	}

	webhookCfg := handlers.WebhookConfig{
		Resolver:      pipeline.Resolver,
		Store:         pipeline.Store,
		Orchestrator:  pipeline.Orchestrator,
		Dispatcher:    pipeline.Dispatcher,
		Processed:     processed,
		Outbox:        outbox,
		Attribution:   signals,
		Pauser:        pipeline.Pauser,
		Metrics:       messagingMetrics,
		Logger:        logger,
		AuthToken:     webhookSecret,
		PublicBaseURL: cfg.PublicBaseURL,
		BookingURL:    cfg.BookingURL,
	}
	if jobStore != nil {
		webhookCfg.Jobs = jobStore
	}
	webhooks := handlers.NewInboundWebhookHandler(webhookCfg)

	admin := handlers.NewAdminConversationsHandler(readDB, pipeline.Store, outbox, logger)
	adminMetrics := handlers.NewAdminMetricsHandler(gatherer, logger)
	var adminJobs *handlers.AdminJobsHandler
	if jobStore != nil {
		adminJobs = handlers.NewAdminJobsHandler(jobStore, logger)
	}

	r := router.New(&router.Config{
		Logger:               logger,
		Webhooks:             webhooks,
		AdminAuthSecret:      cfg.AdminJWTSecret,
		Admin:                admin,
		AdminJobs:            adminJobs,
		AdminMetrics:         adminMetrics,
		MetricsHandler:       metricsHandler,
		CORSAllowedOrigins:   cfg.CORSOrigins(),
		WebhookRatePerSecond: cfg.RateLimitPerSecond,
		WebhookRateBurst:     cfg.RateLimitBurst,
	})

	if deliverer := bootstrap.BuildForwardDeliverer(cfg, outbox, logger); deliverer != nil {
		go deliverer.Start(ctx)
	}
	inlineWorker := setupInlineWorker(ctx, cfg, queue, signals, jobStore, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancel()
	waitForInlineWorker(inlineWorker, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// setupMessagingMetrics registers the messaging metrics on a dedicated
// registry and returns the scrape handler alongside the recorder and the
// gatherer backing the admin summary endpoint.
func setupMessagingMetrics() (http.Handler, *observemetrics.MessagingMetrics, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	m := observemetrics.NewMessagingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m, reg
}

// setupInlineWorker runs the task worker in-process when the memory queue is
// active, so local runs deliver attribution signals without a separate
// binary.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, queue events.QueueClient, signals *attribution.Dispatcher, jobs *conversation.JobStore, logger *logging.Logger) *taskworker.Worker {
	if !cfg.UseMemoryQueue || queue == nil || signals == nil {
		return nil
	}

	var opts []taskworker.WorkerOption
	if cfg.WorkerCount > 0 {
		opts = append(opts, taskworker.WithWorkerCount(cfg.WorkerCount))
	}

	var worker *taskworker.Worker
	if jobs != nil {
		worker = taskworker.NewWorker(queue, signals, jobs, logger, opts...)
	} else {
		worker = taskworker.NewWorker(queue, signals, nil, logger, opts...)
	}
	worker.Start(ctx)
	logger.Info("inline task worker started", "workers", cfg.WorkerCount)
	return worker
}

// waitForInlineWorker blocks until the worker drains or the shutdown budget
// elapses.
func waitForInlineWorker(worker *taskworker.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	doneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("task worker stopped")
	case <-doneCtx.Done():
		logger.Error("task worker shutdown timed out", "error", doneCtx.Err())
	}
}
