package bootstrap

import (
	"context"
	"strings"

	appconfig "github.com/donforce/messaging-ai-platform/internal/config"
	"github.com/donforce/messaging-ai-platform/internal/messaging"
	"github.com/donforce/messaging-ai-platform/internal/notify"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// BuildNotifyService wires operator handoff alerts. SendGrid is preferred,
// SES is the fallback, and with neither configured the stub sender keeps the
// service non-nil so handoffs still log. smsSender is reused for operator
// texts when a from number and operator phone are set.
func BuildNotifyService(ctx context.Context, cfg *appconfig.Config, smsSender *messaging.HTTPSender, logger *logging.Logger) *notify.Service {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var email notify.EmailSender
	if s := notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName, logger); s != nil {
		email = s
		logger.Info("operator email alerts via sendgrid", "from", cfg.SendGridFromEmail)
	} else if cfg.SESFromEmail != "" {
		awsCfg, err := BuildAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("ses email alerts unavailable", "error", err)
		} else if s := notify.NewSESSender(BuildSESClient(awsCfg, cfg), cfg.SESFromEmail, cfg.SendGridFromName, logger); s != nil {
			email = s
			logger.Info("operator email alerts via ses", "from", cfg.SESFromEmail)
		}
	}
	if email == nil {
		email = notify.NewStubEmailSender(logger)
	}

	var sms notify.SMSSender
	if cfg.OperatorPhone != "" && cfg.ProviderFromNumber != "" && smsSender != nil {
		sender := smsSender
		sms = notify.NewSimpleSMSSender(cfg.ProviderFromNumber, func(ctx context.Context, to, from, body string) error {
			_, err := sender.Send(ctx, from, to, body)
			return err
		}, logger)
		logger.Info("operator sms alerts enabled", "from", cfg.ProviderFromNumber)
	}

	recipients := notify.Recipients{
		Emails: splitRecipients(cfg.OperatorEmail),
		Phones: splitRecipients(cfg.OperatorPhone),
	}
	return notify.NewService(email, sms, recipients, cfg.SendGridFromName, logger)
}

func splitRecipients(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var recipients []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}
