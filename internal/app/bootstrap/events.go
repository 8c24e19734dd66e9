package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/donforce/messaging-ai-platform/internal/attribution"
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// BuildTaskQueue returns the background task queue: in-memory when
// USE_MEMORY_QUEUE is set, SQS when a queue URL is configured, nil when
// neither is.
func BuildTaskQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) events.QueueClient {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory task queue")
		return events.NewMemoryQueue(0)
	}
	if strings.TrimSpace(cfg.TaskQueueURL) == "" {
		return nil
	}
	awsCfg, err := BuildAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("task queue unavailable", "error", err)
		return nil
	}
	logger.Info("using sqs task queue", "queue_url", cfg.TaskQueueURL)
	return events.NewSQSQueue(BuildSQSClient(awsCfg, cfg), cfg.TaskQueueURL)
}

// BuildTaskPublisher wraps the queue for producers. Nil in, nil out.
func BuildTaskPublisher(queue events.QueueClient, logger *logging.Logger) *events.Publisher {
	if queue == nil {
		return nil
	}
	return events.NewPublisher(queue, logger)
}

// BuildJobStore returns the DynamoDB-backed job status store, or nil when no
// table is configured.
func BuildJobStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *conversation.JobStore {
	if cfg == nil || strings.TrimSpace(cfg.TurnJobsTable) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	awsCfg, err := BuildAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("job status store unavailable", "error", err)
		return nil
	}
	logger.Info("job status store enabled", "table", cfg.TurnJobsTable)
	return conversation.NewJobStore(BuildDynamoClient(awsCfg, cfg), cfg.TurnJobsTable, logger)
}

// BuildForwardDeliverer returns the outbox poller that pushes completion
// events to the configured webhook targets, or nil when no targets are set.
func BuildForwardDeliverer(cfg *appconfig.Config, outbox *events.OutboxStore, logger *logging.Logger) *events.Deliverer {
	if cfg == nil || outbox == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	urls := cfg.ForwardTargets()
	if len(urls) == 0 {
		return nil
	}

	targets := make([]events.ForwardTarget, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, events.ForwardTarget{URL: u, Secret: cfg.ForwardSecret})
	}
	forwarder := events.NewHTTPForwarder(targets, logger)
	if cfg.ForwardTimeout > 0 {
		forwarder = forwarder.WithHTTPClient(&http.Client{Timeout: cfg.ForwardTimeout})
	}
	logger.Info("webhook forwarding enabled", "targets", forwarder.Targets())

	deliverer := events.NewDeliverer(outbox, forwarder, logger)
	if cfg.ForwardBatchSize > 0 {
		deliverer = deliverer.WithBatchSize(int32(cfg.ForwardBatchSize))
	}
	if cfg.ForwardPollInterval > 0 {
		deliverer = deliverer.WithInterval(cfg.ForwardPollInterval)
	}
	return deliverer
}

// BuildAttributionDispatcher wires signal detection and delivery. The
// dispatcher is returned even before the conversions API is configured so
// detection still runs; undeliverable signals are dropped with a log line.
func BuildAttributionDispatcher(cfg *appconfig.Config, publisher *events.Publisher, logger *logging.Logger) *attribution.Dispatcher {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var client *attribution.Client
	if cfg.AttributionDatasetID != "" && cfg.AttributionAccessToken != "" {
		endpoint := fmt.Sprintf("%s/%s/events", strings.TrimRight(cfg.AttributionBaseURL, "/"), cfg.AttributionDatasetID)
		c, err := attribution.New(attribution.Config{
			EndpointURL: endpoint,
			AccessToken: cfg.AttributionAccessToken,
			Timeout:     cfg.AttributionTimeout,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("attribution client disabled", "error", err)
		} else {
			client = c
			logger.Info("attribution delivery enabled", "dataset_id", cfg.AttributionDatasetID)
		}
	}

	detector := attribution.NewDetector([]string{cfg.BookingURL})
	if publisher != nil {
		return attribution.NewDispatcher(detector, client, publisher, logger)
	}
	return attribution.NewDispatcher(detector, client, nil, logger)
}
