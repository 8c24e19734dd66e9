package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/identity"
	"github.com/donforce/messaging-ai-platform/internal/leads"
	"github.com/donforce/messaging-ai-platform/internal/notify"
	"github.com/donforce/messaging-ai-platform/internal/reasoning"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// Pipeline bundles the dependencies that serve one inbound message: persist,
// resolve identity, run the reasoning turn, and dispatch the reply.
type Pipeline struct {
	Store        *conversation.Store
	Resolver     *conversation.Resolver
	Orchestrator *conversation.Orchestrator
	Dispatcher   *conversation.Dispatcher
	Notifier     *notify.Service
	Leads        *leads.PostgresRepository
	Pauser       *leads.SequencePauser
}

// BuildConversationPipeline wires the conversation path from config. The
// database and reasoning API are required; Redis only adds the account
// snapshot cache and is skipped when absent.
func BuildConversationPipeline(ctx context.Context, cfg *appconfig.Config, db conversation.Querier, redisClient *redis.Client, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if db == nil {
		return nil, fmt.Errorf("bootstrap: database is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store := conversation.NewStore(db)

	var cache *identity.SnapshotCache
	if redisClient != nil {
		cache = identity.NewSnapshotCache(redisClient)
		logger.Info("account snapshot cache enabled", "redis", cfg.RedisAddr)
	}
	identityResolver := identity.NewResolver(identity.NewStore(db), cache, logger)
	leadsRepo := leads.NewPostgresRepository(db)
	resolver := conversation.NewResolver(store, identityResolver, leadsRepo, logger)

	sender := BuildReplySender(cfg, logger)
	dispatcher := conversation.NewDispatcher(sender, store, logger)

	notifier := BuildNotifyService(ctx, cfg, sender, logger)
	toolbox := conversation.NewToolbox(notifier, leadsRepo, cfg.OperatorHandoffReply, cfg.BookingURL, logger)

	orchestrator, err := buildOrchestrator(cfg, store, toolbox, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Store:        store,
		Resolver:     resolver,
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Notifier:     notifier,
		Leads:        leadsRepo,
		Pauser:       leads.NewSequencePauser(db),
	}, nil
}

func buildOrchestrator(cfg *appconfig.Config, store *conversation.Store, toolbox *conversation.Toolbox, logger *logging.Logger) (*conversation.Orchestrator, error) {
	if strings.TrimSpace(cfg.ReasoningAPIKey) == "" {
		return nil, fmt.Errorf("bootstrap: REASONING_API_KEY is required")
	}
	if strings.TrimSpace(cfg.ReasoningBaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: REASONING_BASE_URL is required")
	}

	client, err := reasoning.New(reasoning.Config{
		BaseURL:    cfg.ReasoningBaseURL,
		APIKey:     cfg.ReasoningAPIKey,
		Model:      cfg.ReasoningModel,
		Timeout:    cfg.ReasoningTimeout,
		MaxRetries: cfg.ReasoningMaxRetries,
		Backoff:    cfg.ReasoningRetryDelay,
		Logger:     logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reasoning client: %w", err)
	}

	var opts []conversation.OrchestratorOption
	if cfg.FallbackReply != "" {
		opts = append(opts, conversation.WithFallbackReply(cfg.FallbackReply))
	}
	logger.Info("reasoning client ready", "model", cfg.ReasoningModel, "base_url", cfg.ReasoningBaseURL)
	return conversation.NewOrchestrator(client, toolbox, conversation.NewAssembler(store), logger, opts...), nil
}
