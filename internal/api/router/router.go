// Package router assembles the HTTP surface: public webhook endpoints for
// the channel provider and the JWT-protected admin API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/donforce/messaging-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/donforce/messaging-ai-platform/internal/http/middleware"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger   *logging.Logger
	Webhooks *handlers.InboundWebhookHandler

	// Admin API (mounted only when AdminAuthSecret is set and a handler is
	// provided).
	AdminAuthSecret string
	Admin           *handlers.AdminConversationsHandler
	AdminJobs       *handlers.AdminJobsHandler
	AdminMetrics    *handlers.AdminMetricsHandler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Webhook flood protection; zero disables it.
	WebhookRatePerSecond float64
	WebhookRateBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", healthz)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider webhooks. Authentication is the provider signature inside the
	// handler, not a bearer token.
	if cfg.Webhooks != nil {
		r.Route("/webhooks/{channel}", func(hooks chi.Router) {
			if cfg.WebhookRatePerSecond > 0 {
				hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookRateBurst))
			}
			hooks.Post("/inbound", cfg.Webhooks.HandleInbound)
			hooks.Post("/status", cfg.Webhooks.HandleStatus)
		})
	}

	if cfg.AdminAuthSecret != "" && cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			admin.Get("/conversations", cfg.Admin.ListConversations)
			admin.Route("/conversations/{conversationID}", func(conv chi.Router) {
				conv.Get("/", cfg.Admin.GetConversation)
				conv.Post("/close", cfg.Admin.CloseConversation)
				conv.Patch("/auto-respond", cfg.Admin.SetAutoRespond)
				conv.Get("/export", cfg.Admin.ExportTranscript)
			})
			admin.Get("/stats", cfg.Admin.GetStats)
			admin.Get("/engagement", cfg.Admin.GetEngagement)

			if cfg.AdminJobs != nil {
				admin.Get("/jobs/{jobID}", cfg.AdminJobs.GetJob)
			}
			if cfg.AdminMetrics != nil {
				admin.Get("/metrics/summary", cfg.AdminMetrics.GetSummary)
			}
		})
	}

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
