package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/http/handlers"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

func newTestRouter(t *testing.T, mutate ...func(*Config)) http.Handler {
	t.Helper()

	webhooks := handlers.NewInboundWebhookHandler(handlers.WebhookConfig{
		Resolver:     routerResolver{},
		Store:        routerStore{},
		Orchestrator: routerRunner{},
		Dispatcher:   routerDispatcher{},
		Logger:       logging.Default(),
	})

	cfg := &Config{
		Logger:   logging.Default(),
		Webhooks: webhooks,
	}
	for _, m := range mutate {
		m(cfg)
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

// TestRouterWebhookRoutesRegistered guards against the webhook routes silently
// disappearing: the provider retries 404s for a while and then drops messages.
func TestRouterWebhookRoutesRegistered(t *testing.T) {
	router := newTestRouter(t)

	form := url.Values{
		"MessageSid": {"SMroute"},
		"From":       {"+17865551234"},
		"To":         {"+19995550000"},
		"Body":       {"hola"},
	}

	for _, route := range []string{
		"/webhooks/sms/inbound",
		"/webhooks/whatsapp/inbound",
	} {
		req := httptest.NewRequest(http.MethodPost, route, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
			t.Errorf("%s: route not registered (got %d)", route, rr.Code)
		}
	}

	status := url.Values{"MessageSid": {"SMroute"}, "MessageStatus": {"delivered"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/status", strings.NewReader(status.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
		t.Errorf("/webhooks/sms/status: route not registered (got %d)", rr.Code)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	router := newTestRouter(t, func(cfg *Config) {
		cfg.AdminAuthSecret = "test-secret"
		cfg.Admin = handlers.NewAdminConversationsHandler(db, routerAdminStore{}, nil, logging.Default())
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rr.Code)
	}
}

func TestRouterAdminJobStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	job := &conversation.JobRecord{
		JobID:  "task-77",
		Kind:   "attribution",
		Status: conversation.JobStatusCompleted,
	}
	router := newTestRouter(t, func(cfg *Config) {
		cfg.AdminAuthSecret = "test-secret"
		cfg.Admin = handlers.NewAdminConversationsHandler(db, routerAdminStore{}, nil, logging.Default())
		cfg.AdminJobs = handlers.NewAdminJobsHandler(routerJobs{job: job}, logging.Default())
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs/task-77", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-secret"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var got conversation.JobRecord
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.JobID != "task-77" || got.Status != conversation.JobStatusCompleted {
		t.Fatalf("unexpected job payload: %+v", got)
	}
}

func TestRouterAdminMetricsSummary(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	router := newTestRouter(t, func(cfg *Config) {
		cfg.AdminAuthSecret = "test-secret"
		cfg.Admin = handlers.NewAdminConversationsHandler(db, routerAdminStore{}, nil, logging.Default())
		cfg.AdminMetrics = handlers.NewAdminMetricsHandler(prometheus.NewRegistry(), logging.Default())
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/metrics/summary", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-secret"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var summary handlers.MetricsSummary
	if err := json.NewDecoder(rr.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.GeneratedAt == "" {
		t.Fatalf("expected generated_at to be set")
	}
}

// TestRouterAdminNotMountedWithoutSecret documents that a deployment without
// an admin secret exposes no admin surface at all.
func TestRouterAdminNotMountedWithoutSecret(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin is unconfigured, got %d", rr.Code)
	}
}

func TestRouterRateLimitsWebhooks(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.WebhookRatePerSecond = 1
		cfg.WebhookRateBurst = 1
	})

	form := url.Values{
		"MessageSid": {"SMflood"},
		"From":       {"+17865551234"},
		"To":         {"+19995550000"},
		"Body":       {"hola"},
	}

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/inbound", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Real-Ip", "203.0.113.9")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", code)
	}
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type routerResolver struct{}

func (routerResolver) Resolve(ctx context.Context, customer, channelAddr string, channelType conversation.ChannelType, knownUserID *uuid.UUID) (*conversation.Conversation, bool, error) {
	return &conversation.Conversation{
		ID:              uuid.New(),
		CustomerAddress: customer,
		ChannelAddress:  channelAddr,
		ChannelType:     channelType,
		Status:          conversation.StatusActive,
		CreatedAt:       time.Now().UTC(),
	}, false, nil
}

type routerStore struct{}

func (routerStore) AppendMessage(ctx context.Context, msg *conversation.Message) (bool, error) {
	msg.ID = uuid.New()
	return true, nil
}

func (routerStore) UpdateTurnState(ctx context.Context, id uuid.UUID, token *string, lastAIResponse string) error {
	return nil
}

func (routerStore) UpdateDeliveryStatus(ctx context.Context, externalID, status string, errorCode, errorMessage *string) (bool, error) {
	return true, nil
}

type routerRunner struct{}

func (routerRunner) RunTurn(ctx context.Context, conv *conversation.Conversation, inbound *conversation.Message) conversation.TurnResult {
	return conversation.TurnResult{ReplyText: "ok"}
}

type routerDispatcher struct{}

func (routerDispatcher) DispatchReply(ctx context.Context, conv *conversation.Conversation, text string) (*conversation.Message, error) {
	return &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Direction:      conversation.DirectionOutgoing,
		Status:         conversation.DeliverySent,
	}, nil
}

type routerAdminStore struct{}

func (routerAdminStore) GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return nil, conversation.ErrConversationNotFound
}

func (routerAdminStore) Close(ctx context.Context, id uuid.UUID) error { return nil }

func (routerAdminStore) SetAutoRespond(ctx context.Context, id uuid.UUID, enabled bool) error {
	return nil
}
