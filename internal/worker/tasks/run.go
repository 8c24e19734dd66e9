package taskworker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/donforce/messaging-ai-platform/internal/app/bootstrap"
	"github.com/donforce/messaging-ai-platform/internal/attribution"
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// Run starts the background task worker and blocks until ctx is canceled.
// The worker drains the task queue (attribution signals) and, when forward
// targets are configured, also polls the outbox to fan out webhook events.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg == nil {
		return fmt.Errorf("task worker requires config")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.UseMemoryQueue {
		return fmt.Errorf("task worker cannot run when USE_MEMORY_QUEUE=true; run inline workers via the API process instead")
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("worker failed to connect to postgres: %w", err)
		}
		dbPool = pool
		defer dbPool.Close()
	}

	awsConfig, err := bootstrap.BuildAWSConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsConfig)
	queue := events.NewSQSQueue(sqsClient, cfg.TaskQueueURL)
	dynamoClient := dynamodb.NewFromConfig(awsConfig)
	jobStore := conversation.NewJobStore(dynamoClient, cfg.TurnJobsTable, logger)

	var attribClient *attribution.Client
	if cfg.AttributionAccessToken != "" && cfg.AttributionDatasetID != "" {
		endpoint := fmt.Sprintf("%s/%s/events", strings.TrimRight(cfg.AttributionBaseURL, "/"), cfg.AttributionDatasetID)
		attribClient, err = attribution.New(attribution.Config{
			EndpointURL: endpoint,
			AccessToken: cfg.AttributionAccessToken,
			Timeout:     cfg.AttributionTimeout,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("attribution client disabled", "error", err)
			attribClient = nil
		}
	} else {
		logger.Warn("attribution delivery disabled (ATTRIBUTION_DATASET_ID or ATTRIBUTION_ACCESS_TOKEN not set)")
	}

	var bookingLinks []string
	if cfg.BookingURL != "" {
		bookingLinks = append(bookingLinks, cfg.BookingURL)
	}
	detector := attribution.NewDetector(bookingLinks)
	dispatcher := attribution.NewDispatcher(detector, attribClient, nil, logger)

	if dbPool != nil && len(cfg.ForwardTargets()) > 0 {
		targets := make([]events.ForwardTarget, 0, len(cfg.ForwardTargets()))
		for _, url := range cfg.ForwardTargets() {
			targets = append(targets, events.ForwardTarget{URL: url, Secret: cfg.ForwardSecret})
		}
		forwarder := events.NewHTTPForwarder(targets, logger)
		deliverer := events.NewDeliverer(events.NewOutboxStore(dbPool), forwarder, logger).
			WithBatchSize(int32(cfg.ForwardBatchSize)).
			WithInterval(cfg.ForwardPollInterval)
		go deliverer.Start(ctx)
		logger.Info("webhook forwarder started", "targets", len(targets), "interval", cfg.ForwardPollInterval.String())
	} else {
		logger.Info("webhook forwarding disabled", "has_db", dbPool != nil, "targets", len(cfg.ForwardTargets()))
	}

	worker := NewWorker(
		queue,
		dispatcher,
		jobStore,
		logger,
		WithWorkerCount(cfg.WorkerCount),
		WithDeliverTimeout(cfg.AttributionTimeout),
	)

	worker.Start(ctx)

	<-ctx.Done()

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

	return nil
}
