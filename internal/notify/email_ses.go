package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// SESSender delivers alerts through the SES v2 API. It is the fallback when
// SendGrid is not configured, since deployments already carry AWS credentials
// for the job queue.
type SESSender struct {
	client *sesv2.Client
	from   string
	logger *logging.Logger
}

// NewSESSender returns an SES-backed sender, or nil without a client.
func NewSESSender(client *sesv2.Client, fromEmail, fromName string, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if fromName == "" {
		fromName = defaultFromName
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{
		client: client,
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
		logger: logger,
	}
}

// Send delivers one alert as a simple (non-raw) SES message.
func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: ses sender not configured")
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: sesMessage(msg)},
	})
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("alert email sent",
		"to", msg.To, "subject", msg.Subject, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesMessage(msg EmailMessage) *types.Message {
	utf8 := func(v string) *types.Content {
		return &types.Content{Data: aws.String(v), Charset: aws.String("UTF-8")}
	}
	m := &types.Message{
		Subject: utf8(msg.Subject),
		Body:    &types.Body{},
	}
	if msg.Body != "" {
		m.Body.Text = utf8(msg.Body)
	}
	if msg.HTML != "" {
		m.Body.Html = utf8(msg.HTML)
	}
	return m
}
