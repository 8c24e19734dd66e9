// Package conversation implements the durable conversation state and the
// message orchestration shared by the SMS and WhatsApp channels: resolving
// inbound messages to conversation records, assembling reply context,
// driving tool-calling turns against the reasoning API, and dispatching the
// reply back through the channel provider.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/identity"
)

// ChannelType identifies the messaging transport for a conversation.
type ChannelType string

const (
	ChannelSMS      ChannelType = "sms"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// Valid reports whether the channel is one the platform serves.
func (c ChannelType) Valid() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

// Conversation status values.
const (
	StatusActive   = "active"
	StatusClosed   = "closed"
	StatusArchived = "archived"
)

// Direction of a message relative to the platform.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Delivery status values reported by the channel provider, in lifecycle
// order. Read is only reachable after delivered.
const (
	DeliveryQueued      = "queued"
	DeliverySending     = "sending"
	DeliverySent        = "sent"
	DeliveryDelivered   = "delivered"
	DeliveryUndelivered = "undelivered"
	DeliveryFailed      = "failed"
	DeliveryRead        = "read"
)

// deliveryRank orders delivery statuses so out-of-order provider callbacks
// never move a message backwards. Terminal failure states and read share the
// top rank with delivered's successors.
var deliveryRank = map[string]int{
	DeliveryQueued:      0,
	DeliverySending:     1,
	DeliverySent:        2,
	DeliveryDelivered:   3,
	DeliveryUndelivered: 4,
	DeliveryFailed:      4,
	DeliveryRead:        4,
}

// DeliveryTransitionAllowed reports whether a status callback may move a
// message from current to next. Equal-rank transitions are rejected except
// the delivered→read step; failure states never transition to read.
func DeliveryTransitionAllowed(current, next string) bool {
	curRank, okCur := deliveryRank[current]
	nextRank, okNext := deliveryRank[next]
	if !okCur || !okNext {
		return false
	}
	if next == DeliveryRead {
		return current == DeliveryDelivered
	}
	return nextRank > curRank
}

// Conversation is the durable record for one (customer, channel number)
// message thread.
type Conversation struct {
	ID                    uuid.UUID   `json:"id"`
	UserID                *uuid.UUID  `json:"user_id,omitempty"`
	LeadID                *uuid.UUID  `json:"lead_id,omitempty"`
	CustomerAddress       string      `json:"customer_address"`
	ChannelAddress        string      `json:"channel_address"`
	ChannelType           ChannelType `json:"channel_type"`
	Status                string      `json:"status"`
	AutoRespond           *bool       `json:"auto_respond,omitempty"`
	MessageCount          int         `json:"message_count"`
	CustomerMessageCount  int         `json:"customer_message_count"`
	AIMessageCount        int         `json:"ai_message_count"`
	LastContinuationToken *string     `json:"last_continuation_token,omitempty"`
	LastAIResponse        *string     `json:"last_ai_response,omitempty"`
	LastMessageAt         *time.Time  `json:"last_message_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
	ClosedAt              *time.Time  `json:"closed_at,omitempty"`

	// UserContext is the transient account snapshot attached by the
	// resolver for the current request. Never persisted.
	UserContext *identity.UserContext `json:"-"`
}

// AutoRespondEnabled implements the tri-state flag: only an explicit false
// disables automation, absence means enabled.
func (c *Conversation) AutoRespondEnabled() bool {
	return c.AutoRespond == nil || *c.AutoRespond
}

// ContinuationToken returns the stored token or "" when none is set.
func (c *Conversation) ContinuationToken() string {
	if c.LastContinuationToken == nil {
		return ""
	}
	return *c.LastContinuationToken
}

// Message is one append-only entry in a conversation's log.
type Message struct {
	ID                uuid.UUID  `json:"id"`
	ConversationID    uuid.UUID  `json:"conversation_id"`
	PhoneNumber       string     `json:"phone_number"`
	Content           string     `json:"content"`
	Direction         Direction  `json:"direction"`
	ExternalMessageID *string    `json:"external_message_id,omitempty"`
	IsAIGenerated     bool       `json:"is_ai_generated"`
	Status            string     `json:"status"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ErrorCode         *string    `json:"error_code,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Turn roles mirrored to the reasoning API's transcript format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior exchange entry replayed to the reasoning API.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
