package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/donforce/messaging-ai-platform/internal/app/bootstrap"
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// sweepResult is the scheduled invocation's response payload.
type sweepResult struct {
	Purged int `json:"purged"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	sweeper, cleanup, err := buildSweeper(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build retention sweeper", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(func(ctx context.Context) (sweepResult, error) {
			purged, err := sweeper.Run(ctx)
			return sweepResult{Purged: purged}, err
		})
		return
	}

	purged, err := sweeper.Run(context.Background())
	if err != nil {
		logger.Error("retention sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info("retention sweep complete", "purged", purged)
}

func buildSweeper(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*conversation.Sweeper, func(), error) {
	pool, err := bootstrap.BuildDatabasePool(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var archiver *conversation.Archiver
	if cfg.ArchiveBucket != "" {
		awsCfg, err := bootstrap.BuildAWSConfig(ctx, cfg)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		archiver = conversation.NewArchiver(bootstrap.BuildS3Client(awsCfg, cfg), cfg.ArchiveBucket, logger)
		logger.Info("transcript archival enabled", "bucket", cfg.ArchiveBucket)
	} else {
		logger.Warn("no archive bucket configured; purging without archival")
		archiver = conversation.NewArchiver(nil, "", logger)
	}

	store := conversation.NewStore(pool)
	sweeper := conversation.NewSweeper(store, archiver, cfg.RetentionAge, cfg.RetentionBatchSize, logger)
	return sweeper, pool.Close, nil
}
