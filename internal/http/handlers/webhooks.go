// Package handlers exposes the HTTP surface of the platform: the provider
// webhook endpoints that feed the conversation pipeline and the admin API
// that manages it.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/attribution"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/internal/messaging"
	observemetrics "github.com/donforce/messaging-ai-platform/internal/observability/metrics"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// webhookProvider keys dedupe records for the channel provider's events.
const webhookProvider = "twilio"

// Webhook event types used for metrics labels.
const (
	eventInbound = "message.received"
	eventStatus  = "message.status"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type conversationResolver interface {
	Resolve(ctx context.Context, customerAddress, channelAddress string, channelType conversation.ChannelType, knownUserID *uuid.UUID) (*conversation.Conversation, bool, error)
}

// messageStore is the slice of the conversation store the webhook handler
// writes through.
type messageStore interface {
	AppendMessage(ctx context.Context, msg *conversation.Message) (bool, error)
	UpdateTurnState(ctx context.Context, id uuid.UUID, token *string, lastAIResponse string) error
	UpdateDeliveryStatus(ctx context.Context, externalID, status string, errorCode, errorMessage *string) (bool, error)
}

type turnRunner interface {
	RunTurn(ctx context.Context, conv *conversation.Conversation, inbound *conversation.Message) conversation.TurnResult
}

type replyDispatcher interface {
	DispatchReply(ctx context.Context, conv *conversation.Conversation, text string) (*conversation.Message, error)
}

type outboxAppender interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
}

type attributionDispatcher interface {
	Dispatch(ctx context.Context, input attribution.DispatchInput) string
}

type sequencePauser interface {
	PauseForLead(ctx context.Context, leadID uuid.UUID) (int64, error)
}

// InboundWebhookHandler processes channel provider webhooks: inbound customer
// messages and delivery-status callbacks.
type InboundWebhookHandler struct {
	resolver      conversationResolver
	store         messageStore
	orchestrator  turnRunner
	dispatcher    replyDispatcher
	processed     processedTracker
	outbox        outboxAppender
	attribution   attributionDispatcher
	jobs          conversation.JobRecorder
	pauser        sequencePauser
	metrics       *observemetrics.MessagingMetrics
	logger        *logging.Logger
	authToken     string
	publicBaseURL string
	bookingURL    string
}

// WebhookConfig wires an InboundWebhookHandler. Resolver, Store,
// Orchestrator, and Dispatcher are required; everything else degrades to a
// no-op when absent.
type WebhookConfig struct {
	Resolver      conversationResolver
	Store         messageStore
	Orchestrator  turnRunner
	Dispatcher    replyDispatcher
	Processed     processedTracker
	Outbox        outboxAppender
	Attribution   attributionDispatcher
	Jobs          conversation.JobRecorder
	Pauser        sequencePauser
	Metrics       *observemetrics.MessagingMetrics
	Logger        *logging.Logger
	AuthToken     string
	PublicBaseURL string
	BookingURL    string
}

func NewInboundWebhookHandler(cfg WebhookConfig) *InboundWebhookHandler {
	if cfg.Resolver == nil {
		panic("handlers: webhook handler requires a resolver")
	}
	if cfg.Store == nil {
		panic("handlers: webhook handler requires a store")
	}
	if cfg.Orchestrator == nil {
		panic("handlers: webhook handler requires an orchestrator")
	}
	if cfg.Dispatcher == nil {
		panic("handlers: webhook handler requires a dispatcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &InboundWebhookHandler{
		resolver:      cfg.Resolver,
		store:         cfg.Store,
		orchestrator:  cfg.Orchestrator,
		dispatcher:    cfg.Dispatcher,
		processed:     cfg.Processed,
		outbox:        cfg.Outbox,
		attribution:   cfg.Attribution,
		jobs:          cfg.Jobs,
		pauser:        cfg.Pauser,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		authToken:     cfg.AuthToken,
		publicBaseURL: cfg.PublicBaseURL,
		bookingURL:    cfg.BookingURL,
	}
}

// webhookResponse is the envelope returned to the channel provider.
type webhookResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// HandleInbound receives an inbound customer message, records it, runs one
// reasoning turn, and dispatches the reply. The customer always hears back:
// reasoning failures degrade to the fallback reply inside the orchestrator,
// so a 5xx here means the message could not be durably recorded.
func (h *InboundWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	channel := conversation.ChannelType(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		h.respondError(w, http.StatusNotFound, "unknown channel")
		return
	}

	if h.authToken != "" && !messaging.ValidateSignature(r, h.authToken, h.webhookURL(r)) {
		h.logger.Warn("webhook signature rejected", "channel", channel, "path", r.URL.Path)
		h.respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	hook, err := messaging.ParseInboundWebhook(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if hook.From == "" || hook.To == "" {
		h.respondError(w, http.StatusBadRequest, "missing sender or recipient")
		return
	}
	if strings.TrimSpace(hook.Body) == "" {
		h.respondError(w, http.StatusBadRequest, "missing message body")
		return
	}

	if hook.MessageSid != "" && h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(ctx, webhookProvider, hook.MessageSid)
		if err != nil {
			h.logger.Error("processed lookup failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "server error")
			return
		}
		if seen {
			h.metrics.ObserveInbound(eventInbound, "duplicate")
			h.respondJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "duplicate event"})
			return
		}
	}

	customer := messaging.NormalizeE164(messaging.StripChannelPrefix(hook.From))
	channelAddr := messaging.NormalizeE164(messaging.StripChannelPrefix(hook.To))

	conv, created, err := h.resolver.Resolve(ctx, customer, channelAddr, channel, nil)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	inbound := &conversation.Message{
		ConversationID: conv.ID,
		PhoneNumber:    customer,
		Content:        hook.Body,
		Direction:      conversation.DirectionIncoming,
		Status:         conversation.DeliveryDelivered,
	}
	if hook.MessageSid != "" {
		sid := hook.MessageSid
		inbound.ExternalMessageID = &sid
	}
	inserted, err := h.store.AppendMessage(ctx, inbound)
	if err != nil {
		h.respondMapped(w, err)
		return
	}
	if !inserted {
		h.markProcessed(ctx, hook.MessageSid)
		h.metrics.ObserveInbound(eventInbound, "duplicate")
		h.respondJSON(w, http.StatusOK, webhookResponse{
			Success: true, Message: "duplicate message", ConversationID: conv.ID.String(),
		})
		return
	}

	h.pauseSequences(ctx, conv)

	if !conv.AutoRespondEnabled() {
		h.markProcessed(ctx, hook.MessageSid)
		h.metrics.ObserveInbound(eventInbound, "stored")
		h.metrics.ObserveWebhookLatency(eventInbound, time.Since(start).Seconds())
		h.respondJSON(w, http.StatusOK, webhookResponse{
			Success: true, Message: "message stored", ConversationID: conv.ID.String(),
		})
		return
	}

	turnStart := time.Now()
	result := h.orchestrator.RunTurn(ctx, conv, inbound)
	turnOutcome := "completed"
	if result.UsedFallback {
		turnOutcome = "fallback"
	}
	h.metrics.ObserveTurn(turnOutcome, time.Since(turnStart).Seconds())

	reply, err := h.dispatcher.DispatchReply(ctx, conv, result.ReplyText)
	if err != nil {
		h.respondMapped(w, err)
		return
	}
	h.metrics.ObserveOutbound(string(conv.ChannelType), reply.Status)

	h.persistTurnState(ctx, conv, result)
	h.afterReply(ctx, conv, created, reply, result)
	h.markProcessed(ctx, hook.MessageSid)

	h.metrics.ObserveInbound(eventInbound, "replied")
	h.metrics.ObserveWebhookLatency(eventInbound, time.Since(start).Seconds())
	h.respondJSON(w, http.StatusOK, webhookResponse{
		Success: true, Message: "reply sent", ConversationID: conv.ID.String(),
	})
}

// HandleStatus applies a provider delivery-status callback to the message
// that carries the external id. Unknown messages and out-of-order callbacks
// are acknowledged so the provider stops retrying.
func (h *InboundWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	channel := conversation.ChannelType(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		h.respondError(w, http.StatusNotFound, "unknown channel")
		return
	}

	if h.authToken != "" && !messaging.ValidateSignature(r, h.authToken, h.webhookURL(r)) {
		h.logger.Warn("status callback signature rejected", "channel", channel, "path", r.URL.Path)
		h.respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	cb, err := messaging.ParseStatusCallback(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if cb.MessageSid == "" {
		h.respondError(w, http.StatusBadRequest, "missing MessageSid")
		return
	}
	if cb.Status == "" {
		h.respondError(w, http.StatusBadRequest, "missing MessageStatus")
		return
	}

	var errCode, errMsg *string
	if cb.ErrorCode != "" {
		errCode = &cb.ErrorCode
	}
	if cb.ErrorMessage != "" {
		errMsg = &cb.ErrorMessage
	}

	status := strings.ToLower(cb.Status)
	updated, err := h.store.UpdateDeliveryStatus(ctx, cb.MessageSid, status, errCode, errMsg)
	if err != nil {
		if errors.Is(err, conversation.ErrMessageNotFound) {
			h.logger.Warn("status callback for unknown message", "external_id", cb.MessageSid, "status", status)
			h.metrics.ObserveInbound(eventStatus, "unknown")
			h.respondJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "unknown message"})
			return
		}
		h.respondMapped(w, err)
		return
	}

	msg := "status recorded"
	if !updated {
		msg = "status ignored"
	}
	h.metrics.ObserveInbound(eventStatus, status)
	h.respondJSON(w, http.StatusOK, webhookResponse{Success: true, Message: msg})
}

// pauseSequences stops automated outreach for the lead once the customer has
// replied. Best effort: a pause failure never blocks the reply.
func (h *InboundWebhookHandler) pauseSequences(ctx context.Context, conv *conversation.Conversation) {
	if h.pauser == nil || conv.LeadID == nil {
		return
	}
	paused, err := h.pauser.PauseForLead(ctx, *conv.LeadID)
	if err != nil {
		h.logger.Warn("sequence pause failed",
			"conversation_id", conv.ID, "lead_id", *conv.LeadID, "error", err)
		return
	}
	if paused > 0 {
		h.logger.Info("paused outreach sequences",
			"conversation_id", conv.ID, "lead_id", *conv.LeadID, "count", paused)
	}
}

// persistTurnState stores the continuation token and reply text for the next
// turn to resume from. Skipped when the turn never completed a round, so a
// transient reasoning outage cannot wipe the resume state.
func (h *InboundWebhookHandler) persistTurnState(ctx context.Context, conv *conversation.Conversation, result conversation.TurnResult) {
	if result.ContinuationToken == "" {
		return
	}
	token := result.ContinuationToken
	if err := h.store.UpdateTurnState(ctx, conv.ID, &token, result.ReplyText); err != nil {
		h.logger.Error("turn state update failed",
			"conversation_id", conv.ID, "error", err)
	}
}

// afterReply runs the post-reply side effects: outbox events for webhook
// forwarding and the attribution signal check. None of them can fail the
// request; the reply is already on its way.
func (h *InboundWebhookHandler) afterReply(ctx context.Context, conv *conversation.Conversation, created bool, reply *conversation.Message, result conversation.TurnResult) {
	now := time.Now().UTC()
	if h.outbox != nil {
		if created {
			started := events.ConversationStartedV1{
				ConversationID: conv.ID.String(),
				Channel:        string(conv.ChannelType),
				CustomerHash:   conversation.HashAddress(conv.CustomerAddress),
				ChannelAddress: conv.ChannelAddress,
				StartedAt:      conv.CreatedAt,
			}
			if _, err := h.outbox.Append(ctx, events.AggregateConversation, conv.ID.String(), started); err != nil {
				h.logger.Warn("conversation started event append failed",
					"conversation_id", conv.ID, "error", err)
			}
		}
		completed := events.ReplyCompletedV1{
			ConversationID: conv.ID.String(),
			Channel:        string(conv.ChannelType),
			CustomerHash:   conversation.HashAddress(conv.CustomerAddress),
			MessageID:      reply.ID.String(),
			ReplyLength:    len(result.ReplyText),
			UsedFallback:   result.UsedFallback,
			SendFailed:     reply.Status == conversation.DeliveryFailed,
			CompletedAt:    now,
		}
		if _, err := h.outbox.Append(ctx, events.AggregateConversation, conv.ID.String(), completed); err != nil {
			h.logger.Warn("reply completed event append failed",
				"conversation_id", conv.ID, "error", err)
		}
	}

	if h.attribution == nil {
		return
	}
	taskID := h.attribution.Dispatch(ctx, attribution.DispatchInput{
		ConversationID: conv.ID,
		MessageID:      reply.ID,
		CustomerPhone:  conv.CustomerAddress,
		BookingURL:     h.conversationBookingURL(conv),
		UserID:         conv.UserID,
		LeadID:         conv.LeadID,
		ReplyText:      result.ReplyText,
		OccurredAt:     now,
	})
	if taskID == "" || h.jobs == nil {
		return
	}
	job := &conversation.JobRecord{
		JobID:          taskID,
		Kind:           "attribution",
		ConversationID: conv.ID.String(),
		Detail:         "signal queued for delivery",
	}
	if err := h.jobs.PutPending(ctx, job); err != nil {
		h.logger.Warn("attribution job record failed",
			"conversation_id", conv.ID, "job_id", taskID, "error", err)
	}
}

// conversationBookingURL prefers the account's booking link over the
// platform-wide default.
func (h *InboundWebhookHandler) conversationBookingURL(conv *conversation.Conversation) string {
	if conv.UserContext != nil && conv.UserContext.BookingURL != "" {
		return conv.UserContext.BookingURL
	}
	return h.bookingURL
}

func (h *InboundWebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if h.processed == nil || eventID == "" {
		return
	}
	if _, err := h.processed.MarkProcessed(ctx, webhookProvider, eventID); err != nil {
		h.logger.Error("failed to mark event processed", "error", err, "event_id", eventID)
	}
}

// webhookURL rebuilds the public URL the provider signed. The configured base
// wins; otherwise the URL is reconstructed from the request.
func (h *InboundWebhookHandler) webhookURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return strings.TrimSuffix(h.publicBaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *InboundWebhookHandler) respondMapped(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("webhook processing failed", "error", err)
		h.respondError(w, status, "processing error")
		return
	}
	h.respondError(w, status, err.Error())
}

func (h *InboundWebhookHandler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, webhookResponse{Success: false, Message: msg})
}

func (h *InboundWebhookHandler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

// statusForError maps the platform error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var vErr *conversation.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}
	var aErr *conversation.AuthError
	if errors.As(err, &aErr) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, conversation.ErrConversationNotFound) || errors.Is(err, conversation.ErrMessageNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, conversation.ErrConversationClosed) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
