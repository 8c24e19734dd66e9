package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/attribution"
	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/internal/identity"
	"github.com/donforce/messaging-ai-platform/internal/messaging"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

func TestInboundUnknownChannel(t *testing.T) {
	s := newWebhookStubs()
	rec := serveWebhook(s.handler(), "/webhooks/email/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
	if s.resolver.calls != 0 {
		t.Fatal("resolver must not run for an unserved channel")
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	s := newWebhookStubs()
	h := s.handler(func(cfg *WebhookConfig) {
		cfg.AuthToken = "secret"
		cfg.PublicBaseURL = "https://hooks.example.com"
	})

	rec := serveWebhook(h, "/webhooks/sms/inbound", inboundForm("Hola"),
		map[string]string{messaging.SignatureHeader: "bogus"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if s.resolver.calls != 0 {
		t.Fatal("nothing may be processed before the signature check")
	}
	if len(s.store.appended) != 0 {
		t.Fatal("no message may be stored on a rejected signature")
	}
}

func TestInboundAcceptsSignedRequest(t *testing.T) {
	s := newWebhookStubs()
	h := s.handler(func(cfg *WebhookConfig) {
		cfg.AuthToken = "secret"
		cfg.PublicBaseURL = "https://hooks.example.com"
	})

	form := inboundForm("Hola")
	sig := messaging.ComputeSignature("secret", "https://hooks.example.com/webhooks/sms/inbound", form)
	rec := serveWebhook(h, "/webhooks/sms/inbound", form,
		map[string]string{messaging.SignatureHeader: sig})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if s.dispatcher.calls != 1 {
		t.Fatalf("expected one reply dispatch, got %d", s.dispatcher.calls)
	}
}

func TestInboundMissingFields(t *testing.T) {
	cases := []struct {
		name string
		form url.Values
	}{
		{"no sender", url.Values{"MessageSid": {"SM1"}, "To": {"+19995550000"}, "Body": {"hi"}}},
		{"no recipient", url.Values{"MessageSid": {"SM1"}, "From": {"+17865551234"}, "Body": {"hi"}}},
		{"blank body", url.Values{"MessageSid": {"SM1"}, "From": {"+17865551234"}, "To": {"+19995550000"}, "Body": {"   "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newWebhookStubs()
			rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", tc.form, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
			if s.resolver.calls != 0 {
				t.Fatal("resolver must not run on an invalid payload")
			}
		})
	}
}

func TestInboundDuplicateEventShortCircuits(t *testing.T) {
	s := newWebhookStubs()
	s.tracker.seen["SM123"] = true

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a replayed event, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "duplicate event" {
		t.Fatalf("expected duplicate ack, got %q", resp.Message)
	}
	if s.resolver.calls != 0 || len(s.store.appended) != 0 {
		t.Fatal("a replayed event must not touch the conversation")
	}
}

func TestInboundDedupeLookupFailure(t *testing.T) {
	s := newWebhookStubs()
	s.tracker.lookupErr = errors.New("db down")

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}

func TestInboundDuplicateMessageAcked(t *testing.T) {
	s := newWebhookStubs()
	s.store.insertDup = true

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeWebhookResponse(t, rec)
	if resp.Message != "duplicate message" {
		t.Fatalf("expected duplicate message ack, got %q", resp.Message)
	}
	if resp.ConversationID != s.resolver.conv.ID.String() {
		t.Fatalf("duplicate ack must still name the conversation, got %q", resp.ConversationID)
	}
	if s.runner.calls != 0 || s.dispatcher.calls != 0 {
		t.Fatal("a duplicate message must not trigger a reply")
	}
	if len(s.tracker.marked) != 1 || s.tracker.marked[0] != "SM123" {
		t.Fatalf("expected the event marked processed, got %v", s.tracker.marked)
	}
}

func TestInboundStoredWhenAutoRespondOff(t *testing.T) {
	s := newWebhookStubs()
	off := false
	s.resolver.conv.AutoRespond = &off
	leadID := uuid.New()
	s.resolver.conv.LeadID = &leadID
	s.pauser.paused = 2

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "message stored" {
		t.Fatalf("expected stored ack, got %q", resp.Message)
	}
	if len(s.store.appended) != 1 {
		t.Fatalf("expected the inbound message stored, got %d", len(s.store.appended))
	}
	if s.runner.calls != 0 || s.dispatcher.calls != 0 {
		t.Fatal("auto-respond off must suppress the reply, not the record")
	}
	if s.pauser.calls != 1 || s.pauser.gotLead != leadID {
		t.Fatal("a customer reply must still pause outreach sequences")
	}
	if len(s.tracker.marked) != 1 {
		t.Fatalf("expected the event marked processed, got %v", s.tracker.marked)
	}
}

func TestInboundReplyFlow(t *testing.T) {
	s := newWebhookStubs()
	s.resolver.created = true
	s.attr.taskID = "task-42"
	replyID := uuid.New()
	s.dispatcher.reply = &conversation.Message{
		ID:             replyID,
		ConversationID: s.resolver.conv.ID,
		Direction:      conversation.DirectionOutgoing,
		Status:         conversation.DeliverySent,
	}

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Quiero agendar"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeWebhookResponse(t, rec)
	if !resp.Success || resp.Message != "reply sent" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.ConversationID != s.resolver.conv.ID.String() {
		t.Fatalf("expected conversation id in the ack, got %q", resp.ConversationID)
	}

	if s.resolver.gotCustomer != "+17865551234" || s.resolver.gotChannelAddr != "+19995550000" {
		t.Fatalf("unexpected resolve addresses: %q %q", s.resolver.gotCustomer, s.resolver.gotChannelAddr)
	}
	if len(s.store.appended) != 1 {
		t.Fatalf("expected one stored message, got %d", len(s.store.appended))
	}
	stored := s.store.appended[0]
	if stored.Direction != conversation.DirectionIncoming || stored.Status != conversation.DeliveryDelivered {
		t.Fatalf("unexpected inbound message: %+v", stored)
	}
	if stored.ExternalMessageID == nil || *stored.ExternalMessageID != "SM123" {
		t.Fatal("expected the provider message id on the stored message")
	}
	if s.dispatcher.gotText != "¡Claro!" {
		t.Fatalf("expected the turn's reply dispatched, got %q", s.dispatcher.gotText)
	}

	if s.store.turnCalls != 1 || s.store.turnToken == nil || *s.store.turnToken != "tok-1" {
		t.Fatal("expected the continuation token persisted for the next turn")
	}
	if s.store.turnReply != "¡Claro!" {
		t.Fatalf("expected the reply text persisted, got %q", s.store.turnReply)
	}

	if len(s.outbox.events) != 2 {
		t.Fatalf("expected started + completed events, got %d", len(s.outbox.events))
	}
	started, ok := s.outbox.events[0].(events.ConversationStartedV1)
	if !ok {
		t.Fatalf("expected ConversationStartedV1 first, got %T", s.outbox.events[0])
	}
	if started.CustomerHash == "" || started.CustomerHash == s.resolver.conv.CustomerAddress {
		t.Fatal("forwarded events must carry the hashed address, never the raw one")
	}
	completed, ok := s.outbox.events[1].(events.ReplyCompletedV1)
	if !ok {
		t.Fatalf("expected ReplyCompletedV1 second, got %T", s.outbox.events[1])
	}
	if completed.MessageID != replyID.String() || completed.UsedFallback || completed.SendFailed {
		t.Fatalf("unexpected completed event: %+v", completed)
	}

	if s.attr.calls != 1 {
		t.Fatalf("expected one attribution dispatch, got %d", s.attr.calls)
	}
	if s.attr.got.BookingURL != "https://book.example.com/default" {
		t.Fatalf("expected the platform booking link, got %q", s.attr.got.BookingURL)
	}
	if s.attr.got.MessageID != replyID {
		t.Fatal("attribution must reference the outbound reply")
	}

	if len(s.jobs.jobs) != 1 || s.jobs.jobs[0].JobID != "task-42" {
		t.Fatalf("expected the queued signal recorded as a job, got %+v", s.jobs.jobs)
	}
	if s.jobs.jobs[0].Kind != "attribution" {
		t.Fatalf("unexpected job kind %q", s.jobs.jobs[0].Kind)
	}

	if len(s.tracker.marked) != 1 || s.tracker.marked[0] != "SM123" {
		t.Fatalf("expected the event marked processed, got %v", s.tracker.marked)
	}
}

func TestInboundPrefersAccountBookingURL(t *testing.T) {
	s := newWebhookStubs()
	s.resolver.conv.UserContext = &identity.UserContext{
		UserID:     uuid.New(),
		Name:       "Acme Studio",
		BookingURL: "https://book.example.com/acme",
	}

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if s.attr.got.BookingURL != "https://book.example.com/acme" {
		t.Fatalf("expected the account booking link, got %q", s.attr.got.BookingURL)
	}
}

func TestInboundFallbackTurnSkipsResumeState(t *testing.T) {
	s := newWebhookStubs()
	s.runner.result = conversation.TurnResult{
		ReplyText:    "We received your message and will get back to you shortly.",
		UsedFallback: true,
	}

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if s.store.turnCalls != 0 {
		t.Fatal("a turn without a continuation token must not overwrite resume state")
	}
	completed := s.outbox.events[len(s.outbox.events)-1].(events.ReplyCompletedV1)
	if !completed.UsedFallback {
		t.Fatal("expected the fallback flagged on the forwarded event")
	}
}

func TestInboundWhatsAppAddressNormalization(t *testing.T) {
	s := newWebhookStubs()
	s.resolver.conv.ChannelType = conversation.ChannelWhatsApp

	form := url.Values{
		"MessageSid": {"SMwa1"},
		"From":       {"whatsapp:+1 (786) 555-1234"},
		"To":         {"whatsapp:+19995550000"},
		"Body":       {"Hola"},
	}
	rec := serveWebhook(s.handler(), "/webhooks/whatsapp/inbound", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if s.resolver.gotCustomer != "+17865551234" {
		t.Fatalf("expected the prefix stripped and digits normalized, got %q", s.resolver.gotCustomer)
	}
	if s.resolver.gotType != conversation.ChannelWhatsApp {
		t.Fatalf("expected whatsapp channel, got %q", s.resolver.gotType)
	}
	if s.store.appended[0].PhoneNumber != "+17865551234" {
		t.Fatalf("stored message must carry the normalized address, got %q", s.store.appended[0].PhoneNumber)
	}
}

func TestInboundReplyPersistFailure(t *testing.T) {
	s := newWebhookStubs()
	s.dispatcher.err = &conversation.StoreError{Op: "append reply", Err: errors.New("db down")}

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "processing error" {
		t.Fatalf("internal details must not leak, got %q", resp.Message)
	}
	if len(s.tracker.marked) != 0 {
		t.Fatal("a failed request must stay unmarked so the retry can run")
	}
}

func TestInboundFailedSendStillAcked(t *testing.T) {
	s := newWebhookStubs()
	s.dispatcher.reply = &conversation.Message{
		ID:             uuid.New(),
		ConversationID: s.resolver.conv.ID,
		Direction:      conversation.DirectionOutgoing,
		Status:         conversation.DeliveryFailed,
	}

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("a failed provider send is recorded, not retried: expected 200, got %d", rec.Code)
	}
	completed := s.outbox.events[len(s.outbox.events)-1].(events.ReplyCompletedV1)
	if !completed.SendFailed {
		t.Fatal("expected the failed send flagged on the forwarded event")
	}
}

func TestInboundNoJobWithoutQueuedTask(t *testing.T) {
	s := newWebhookStubs()
	s.attr.taskID = ""

	rec := serveWebhook(s.handler(), "/webhooks/sms/inbound", inboundForm("Hola"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(s.jobs.jobs) != 0 {
		t.Fatalf("no job record without a queued task, got %+v", s.jobs.jobs)
	}
}

func TestStatusRecordsDelivery(t *testing.T) {
	s := newWebhookStubs()
	s.store.statusUpdated = true

	form := url.Values{"MessageSid": {"SMout1"}, "MessageStatus": {"Delivered"}}
	rec := serveWebhook(s.handler(), "/webhooks/sms/status", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "status recorded" {
		t.Fatalf("expected recorded ack, got %q", resp.Message)
	}
	if s.store.gotExternalID != "SMout1" || s.store.gotStatus != "delivered" {
		t.Fatalf("expected lowercased status for SMout1, got %q %q", s.store.gotExternalID, s.store.gotStatus)
	}
	if s.store.gotErrCode != nil || s.store.gotErrMsg != nil {
		t.Fatal("no error details expected on a delivered callback")
	}
}

func TestStatusOutOfOrderAcked(t *testing.T) {
	s := newWebhookStubs()
	s.store.statusUpdated = false

	form := url.Values{"MessageSid": {"SMout1"}, "MessageStatus": {"sent"}}
	rec := serveWebhook(s.handler(), "/webhooks/sms/status", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("a stale callback is acked, not retried: expected 200, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "status ignored" {
		t.Fatalf("expected ignored ack, got %q", resp.Message)
	}
}

func TestStatusUnknownMessageAcked(t *testing.T) {
	s := newWebhookStubs()
	s.store.statusErr = conversation.ErrMessageNotFound

	form := url.Values{"MessageSid": {"SMghost"}, "MessageStatus": {"delivered"}}
	rec := serveWebhook(s.handler(), "/webhooks/sms/status", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("an unknown message is acked so the provider stops retrying, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Message != "unknown message" {
		t.Fatalf("expected unknown ack, got %q", resp.Message)
	}
}

func TestStatusValidation(t *testing.T) {
	s := newWebhookStubs()
	h := s.handler()

	rec := serveWebhook(h, "/webhooks/sms/status",
		url.Values{"MessageStatus": {"delivered"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without MessageSid, got %d", rec.Code)
	}

	rec = serveWebhook(h, "/webhooks/sms/status",
		url.Values{"MessageSid": {"SMout1"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without MessageStatus, got %d", rec.Code)
	}
}

func TestStatusCarriesFailureDetails(t *testing.T) {
	s := newWebhookStubs()
	s.store.statusUpdated = true

	form := url.Values{
		"MessageSid":    {"SMout1"},
		"MessageStatus": {"failed"},
		"ErrorCode":     {"30008"},
		"ErrorMessage":  {"Unknown destination"},
	}
	rec := serveWebhook(s.handler(), "/webhooks/sms/status", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if s.store.gotErrCode == nil || *s.store.gotErrCode != "30008" {
		t.Fatal("expected the provider error code propagated")
	}
	if s.store.gotErrMsg == nil || *s.store.gotErrMsg != "Unknown destination" {
		t.Fatal("expected the provider error message propagated")
	}
}

func TestStatusUpdateFailure(t *testing.T) {
	s := newWebhookStubs()
	s.store.statusErr = &conversation.StoreError{Op: "update status", Err: errors.New("db down")}

	form := url.Values{"MessageSid": {"SMout1"}, "MessageStatus": {"delivered"}}
	rec := serveWebhook(s.handler(), "/webhooks/sms/status", form, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}

type webhookStubs struct {
	resolver   *stubResolver
	store      *stubMessageStore
	runner     *stubTurnRunner
	dispatcher *stubReplyDispatcher
	tracker    *stubTracker
	outbox     *stubOutbox
	attr       *stubAttribution
	jobs       *stubJobs
	pauser     *stubPauser
}

func newWebhookStubs() *webhookStubs {
	return &webhookStubs{
		resolver: &stubResolver{conv: &conversation.Conversation{
			ID:              uuid.New(),
			CustomerAddress: "+17865551234",
			ChannelAddress:  "+19995550000",
			ChannelType:     conversation.ChannelSMS,
			Status:          conversation.StatusActive,
			CreatedAt:       time.Now().UTC(),
		}},
		store:      &stubMessageStore{},
		runner:     &stubTurnRunner{result: conversation.TurnResult{ReplyText: "¡Claro!", ContinuationToken: "tok-1"}},
		dispatcher: &stubReplyDispatcher{},
		tracker:    &stubTracker{seen: map[string]bool{}},
		outbox:     &stubOutbox{},
		attr:       &stubAttribution{taskID: "task-1"},
		jobs:       &stubJobs{},
		pauser:     &stubPauser{},
	}
}

func (s *webhookStubs) handler(mutate ...func(*WebhookConfig)) *InboundWebhookHandler {
	cfg := WebhookConfig{
		Resolver:     s.resolver,
		Store:        s.store,
		Orchestrator: s.runner,
		Dispatcher:   s.dispatcher,
		Processed:    s.tracker,
		Outbox:       s.outbox,
		Attribution:  s.attr,
		Jobs:         s.jobs,
		Pauser:       s.pauser,
		Logger:       logging.Default(),
		BookingURL:   "https://book.example.com/default",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewInboundWebhookHandler(cfg)
}

// serveWebhook routes the request through chi so the channel path parameter
// resolves the way it does in production.
func serveWebhook(h *InboundWebhookHandler, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/webhooks/{channel}/inbound", h.HandleInbound)
	r.Post("/webhooks/{channel}/status", h.HandleStatus)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func inboundForm(body string) url.Values {
	return url.Values{
		"MessageSid": {"SM123"},
		"AccountSid": {"AC1"},
		"From":       {"+17865551234"},
		"To":         {"+19995550000"},
		"Body":       {body},
	}
}

func decodeWebhookResponse(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

type stubResolver struct {
	conv           *conversation.Conversation
	created        bool
	err            error
	calls          int
	gotCustomer    string
	gotChannelAddr string
	gotType        conversation.ChannelType
}

func (s *stubResolver) Resolve(ctx context.Context, customer, channelAddr string, channelType conversation.ChannelType, knownUserID *uuid.UUID) (*conversation.Conversation, bool, error) {
	s.calls++
	s.gotCustomer, s.gotChannelAddr, s.gotType = customer, channelAddr, channelType
	if s.err != nil {
		return nil, false, s.err
	}
	return s.conv, s.created, nil
}

type stubMessageStore struct {
	insertDup bool
	appendErr error
	appended  []*conversation.Message

	turnCalls int
	turnToken *string
	turnReply string

	statusUpdated bool
	statusErr     error
	gotExternalID string
	gotStatus     string
	gotErrCode    *string
	gotErrMsg     *string
}

func (s *stubMessageStore) AppendMessage(ctx context.Context, msg *conversation.Message) (bool, error) {
	if s.appendErr != nil {
		return false, s.appendErr
	}
	if s.insertDup {
		return false, nil
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.appended = append(s.appended, msg)
	return true, nil
}

func (s *stubMessageStore) UpdateTurnState(ctx context.Context, id uuid.UUID, token *string, lastAIResponse string) error {
	s.turnCalls++
	s.turnToken = token
	s.turnReply = lastAIResponse
	return nil
}

func (s *stubMessageStore) UpdateDeliveryStatus(ctx context.Context, externalID, status string, errorCode, errorMessage *string) (bool, error) {
	s.gotExternalID, s.gotStatus = externalID, status
	s.gotErrCode, s.gotErrMsg = errorCode, errorMessage
	if s.statusErr != nil {
		return false, s.statusErr
	}
	return s.statusUpdated, nil
}

type stubTurnRunner struct {
	result conversation.TurnResult
	calls  int
}

func (s *stubTurnRunner) RunTurn(ctx context.Context, conv *conversation.Conversation, inbound *conversation.Message) conversation.TurnResult {
	s.calls++
	return s.result
}

type stubReplyDispatcher struct {
	reply   *conversation.Message
	err     error
	calls   int
	gotText string
}

func (s *stubReplyDispatcher) DispatchReply(ctx context.Context, conv *conversation.Conversation, text string) (*conversation.Message, error) {
	s.calls++
	s.gotText = text
	if s.err != nil {
		return nil, s.err
	}
	if s.reply != nil {
		return s.reply, nil
	}
	return &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Direction:      conversation.DirectionOutgoing,
		Status:         conversation.DeliverySent,
	}, nil
}

type stubTracker struct {
	seen      map[string]bool
	lookupErr error
	marked    []string
}

func (s *stubTracker) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	return s.seen[eventID], nil
}

func (s *stubTracker) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.marked = append(s.marked, eventID)
	return true, nil
}

type stubOutbox struct {
	events []events.CanonicalEvent
	err    error
}

func (s *stubOutbox) Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error) {
	if s.err != nil {
		return events.Envelope{}, s.err
	}
	s.events = append(s.events, evt)
	return events.Envelope{EventID: uuid.NewString(), EventType: evt.EventType()}, nil
}

type stubAttribution struct {
	taskID string
	calls  int
	got    attribution.DispatchInput
}

func (s *stubAttribution) Dispatch(ctx context.Context, input attribution.DispatchInput) string {
	s.calls++
	s.got = input
	return s.taskID
}

type stubJobs struct {
	jobs []*conversation.JobRecord
	err  error
}

func (s *stubJobs) PutPending(ctx context.Context, job *conversation.JobRecord) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubJobs) GetJob(ctx context.Context, jobID string) (*conversation.JobRecord, error) {
	return nil, conversation.ErrJobNotFound
}

type stubPauser struct {
	paused  int64
	err     error
	calls   int
	gotLead uuid.UUID
}

func (s *stubPauser) PauseForLead(ctx context.Context, leadID uuid.UUID) (int64, error) {
	s.calls++
	s.gotLead = leadID
	return s.paused, s.err
}
