package conversation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// providerSender is the channel provider's send primitive.
type providerSender interface {
	Send(ctx context.Context, from, to, body string) (string, error)
}

// Dispatcher sends a reply through the channel provider and records it in
// the message log. Channel address formatting lives here, nowhere upstream.
type Dispatcher struct {
	sender providerSender
	store  *Store
	logger *logging.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(sender providerSender, store *Store, logger *logging.Logger) *Dispatcher {
	if sender == nil {
		panic("conversation: dispatcher requires a sender")
	}
	if store == nil {
		panic("conversation: dispatcher requires a store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{sender: sender, store: store, logger: logger}
}

// DispatchReply sends text to the conversation's customer and persists the
// outgoing message. A provider failure still persists the message with a
// null external id and failed status so the attempt is never invisible; only
// a persistence failure is returned as an error.
func (d *Dispatcher) DispatchReply(ctx context.Context, conv *Conversation, text string) (*Message, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.dispatch_reply", trace.WithAttributes(
		attribute.String("channel.type", string(conv.ChannelType)),
	))
	defer span.End()

	from := formatChannelAddress(conv.ChannelType, conv.ChannelAddress)
	to := formatChannelAddress(conv.ChannelType, conv.CustomerAddress)

	msg := &Message{
		ConversationID: conv.ID,
		PhoneNumber:    conv.CustomerAddress,
		Content:        text,
		Direction:      DirectionOutgoing,
		IsAIGenerated:  true,
		Status:         DeliveryQueued,
	}

	providerID, err := d.sender.Send(ctx, from, to, text)
	if err != nil {
		sendErr := &RemoteAPIError{Op: "provider_send", Err: err}
		span.RecordError(sendErr)
		d.logger.Error("provider send failed",
			"conversation_id", conv.ID, "channel", conv.ChannelType, "error", sendErr)
		msg.Status = DeliveryFailed
	} else {
		msg.ExternalMessageID = &providerID
	}

	if _, err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// formatChannelAddress applies the provider's channel scheme. WhatsApp
// numbers are prefixed, SMS numbers pass through.
func formatChannelAddress(channel ChannelType, address string) string {
	if channel == ChannelWhatsApp {
		return "whatsapp:" + address
	}
	return address
}
