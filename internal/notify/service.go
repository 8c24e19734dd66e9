package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// SMSSender sends SMS messages to operators.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Recipients lists the operator destinations for handoff alerts.
type Recipients struct {
	Emails []string
	Phones []string
}

// Service alerts human operators when a conversation needs them.
type Service struct {
	email        EmailSender
	sms          SMSSender
	recipients   Recipients
	businessName string
	logger       *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, sms SMSSender, recipients Recipients, businessName string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if businessName == "" {
		businessName = defaultFromName
	}
	return &Service{
		email:        email,
		sms:          sms,
		recipients:   recipients,
		businessName: businessName,
		logger:       logger,
	}
}

// NotifyHandoff tells operators a customer asked for a human. The assistant
// has already acknowledged the customer, so failures here must be surfaced
// to the caller for logging but change nothing user-visible.
func (s *Service) NotifyHandoff(ctx context.Context, conversationID uuid.UUID, customerAddress, reason string) error {
	if reason == "" {
		reason = "Customer asked to speak with a person"
	}
	if len(s.recipients.Emails) == 0 && len(s.recipients.Phones) == 0 {
		s.logger.Debug("notify: no handoff recipients configured", "conversation_id", conversationID)
		return nil
	}

	requestedAt := time.Now()
	var errs []error

	if s.email != nil && len(s.recipients.Emails) > 0 {
		subject := fmt.Sprintf("🙋 Human handoff requested - %s", customerAddress)
		body := fmt.Sprintf(`A customer asked to speak with a person.

Customer: %s
Reason: %s
Requested: %s
Conversation: %s

The assistant has paused and told the customer someone will reply here. Please pick up the thread from the dashboard.

— %s`, customerAddress, reason, requestedAt.Format("January 2, 2006 at 3:04 PM"), conversationID, s.businessName)

		html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #f59e0b;">🙋 Human Handoff Requested</h2>
<p>A customer asked to speak with a person.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Customer:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Reason:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Requested:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Conversation:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
</table>
<p style="background: #fffbeb; padding: 12px; border-radius: 8px; border-left: 4px solid #f59e0b;">
  The assistant has paused. Please pick up the thread from the dashboard.
</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— %s</p>
</div>`, customerAddress, reason, requestedAt.Format("January 2, 2006 at 3:04 PM"), conversationID, s.businessName)

		for _, recipient := range s.recipients.Emails {
			msg := EmailMessage{
				To:      recipient,
				Subject: subject,
				Body:    body,
				HTML:    html,
			}
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("notify: failed to send handoff email", "error", err, "to", recipient)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: handoff email sent", "to", recipient, "conversation_id", conversationID)
			}
		}
	}

	if s.sms != nil && len(s.recipients.Phones) > 0 {
		smsBody := fmt.Sprintf("🙋 %s asked for a human at %s. Reason: %s. Conversation %s.",
			customerAddress, requestedAt.Format("1/2 3:04PM"), truncate(reason, 80), conversationID)

		for _, recipient := range s.recipients.Phones {
			if err := s.sms.SendSMS(ctx, recipient, smsBody); err != nil {
				s.logger.Error("notify: failed to send handoff SMS", "error", err, "to", recipient)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: handoff SMS sent", "to", recipient, "conversation_id", conversationID)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

// SimpleSMSSender provides a simple SMS sending implementation.
type SimpleSMSSender struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleSMSSender creates an SMS sender with a custom send function.
func NewSimpleSMSSender(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleSMSSender{
		sendFunc: sendFunc,
		from:     from,
		logger:   logger,
	}
}

// SendSMS sends an SMS message.
func (s *SimpleSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notify: SMS sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, s.from, body)
}

// StubSMSSender is a no-op sender for testing.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates a stub SMS sender.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

// SendSMS logs but doesn't send.
func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Ensure interface compliance
var _ SMSSender = (*SimpleSMSSender)(nil)
var _ SMSSender = (*StubSMSSender)(nil)
