package bootstrap

import (
	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/messaging"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// BuildReplySender creates the channel provider sender for outbound replies.
// Missing credentials do not block startup; sends fail per-message and the
// dispatcher records them as failed, so the gap shows up in the message log.
func BuildReplySender(cfg *appconfig.Config, logger *logging.Logger) *messaging.HTTPSender {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ProviderAccountSID == "" || cfg.ProviderAuthToken == "" {
		logger.Warn("channel provider credentials not configured; outbound sends will fail")
	}
	sender := messaging.NewHTTPSender(cfg.ProviderBaseURL, cfg.ProviderAccountSID, cfg.ProviderAuthToken, logger)
	if cfg.ProviderSendRetries > 0 {
		sender = sender.WithMaxRetries(cfg.ProviderSendRetries)
	}
	return sender
}
