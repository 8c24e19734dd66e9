package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/donforce/messaging-ai-platform/internal/app/bootstrap"
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	taskworker "github.com/donforce/messaging-ai-platform/internal/worker/tasks"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging-ai-platform task worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := bootstrap.BuildTaskQueue(ctx, cfg, logger)
	if queue == nil {
		logger.Error("no task queue configured; set TASK_QUEUE_URL or USE_MEMORY_QUEUE")
		os.Exit(1)
	}

	// The worker delivers signals directly, so it needs the conversions API.
	if cfg.AttributionDatasetID == "" || cfg.AttributionAccessToken == "" {
		logger.Error("attribution credentials not configured; queued signals cannot be delivered")
		os.Exit(1)
	}
	signals := bootstrap.BuildAttributionDispatcher(cfg, nil, logger)
	jobStore := bootstrap.BuildJobStore(ctx, cfg, logger)

	var opts []taskworker.WorkerOption
	if cfg.WorkerCount > 0 {
		opts = append(opts, taskworker.WithWorkerCount(cfg.WorkerCount))
	}
	if cfg.AttributionTimeout > 0 {
		opts = append(opts, taskworker.WithDeliverTimeout(cfg.AttributionTimeout))
	}

	var worker *taskworker.Worker
	if jobStore != nil {
		worker = taskworker.NewWorker(queue, signals, jobStore, logger, opts...)
	} else {
		worker = taskworker.NewWorker(queue, signals, nil, logger, opts...)
	}
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down task worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

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
