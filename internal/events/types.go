package events

import "time"

// AggregateConversation is the aggregate name used for conversation events.
const AggregateConversation = "conversation"

// ConversationStartedV1 signals that an inbound message opened a new
// conversation.
type ConversationStartedV1 struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	CustomerHash   string    `json:"customer_hash"`
	ChannelAddress string    `json:"channel_address"`
	StartedAt      time.Time `json:"started_at"`
}

func (ConversationStartedV1) EventType() string {
	return "conversation.started.v1"
}

// ReplyCompletedV1 captures a finished reasoning turn: the inbound message
// was answered and the reply handed to the channel provider.
type ReplyCompletedV1 struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	CustomerHash   string    `json:"customer_hash"`
	MessageID      string    `json:"message_id"`
	ReplyLength    int       `json:"reply_length"`
	UsedFallback   bool      `json:"used_fallback"`
	SendFailed     bool      `json:"send_failed"`
	CompletedAt    time.Time `json:"completed_at"`
}

func (ReplyCompletedV1) EventType() string {
	return "conversation.reply.completed.v1"
}

// ConversationClosedV1 signals that a conversation was closed through the
// management API.
type ConversationClosedV1 struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	MessageCount   int       `json:"message_count"`
	ClosedAt       time.Time `json:"closed_at"`
}

func (ConversationClosedV1) EventType() string {
	return "conversation.closed.v1"
}
