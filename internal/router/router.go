package router

import (
	"net/http"

	"github.com/outreachpro/outreach/internal/auth"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/handler"
	"github.com/outreachpro/outreach/internal/middleware"
)

// New creates and configures the HTTP router. The payment webhook is only
// mounted when webhooks is non-nil.
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, tokenSvc *auth.TokenService, webhooks *auth.WebhookVerifier) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	mux.HandleFunc("GET /api/v1/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Outreach API v1","version":"` + handler.Version + `"}`))
	})

	authMw := mw.Auth(tokenSvc)
	limits := cfg.Security.RateLimiting

	// Drafting and sending reach the mail provider; limit them per account
	draftRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "drafts",
		Limit:  limits.DraftLimit,
		Window: limits.Window,
		KeyFn:  middleware.AccountKey,
	})
	sendRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "send",
		Limit:  limits.SendLimit,
		Window: limits.Window,
		KeyFn:  middleware.AccountKey,
	})

	protected := func(fn http.HandlerFunc) http.Handler {
		return authMw(fn)
	}

	// Account
	mux.Handle("GET /api/v1/account", protected(h.GetAccount))
	mux.Handle("POST /api/v1/account/mailbox", protected(h.ConnectMailbox))

	// Contacts
	mux.Handle("POST /api/v1/contacts/import", protected(h.ImportContacts))
	mux.Handle("GET /api/v1/contacts", protected(h.ListContacts))

	// Drafting
	mux.Handle("GET /api/v1/preview", protected(h.Preview))
	mux.Handle("POST /api/v1/drafts", authMw(draftRateLimit(http.HandlerFunc(h.CreateDrafts))))
	mux.Handle("GET /api/v1/drafts", protected(h.ListDrafts))

	// Sending
	mux.Handle("POST /api/v1/attempts/{id}/send", authMw(sendRateLimit(http.HandlerFunc(h.SendAttempt))))
	mux.Handle("POST /api/v1/batches", authMw(sendRateLimit(http.HandlerFunc(h.EnqueueBatch))))
	mux.Handle("GET /api/v1/batches/{id}", protected(h.GetBatch))
	mux.Handle("POST /api/v1/batches/{id}/cancel", protected(h.CancelBatch))

	// Reporting
	mux.Handle("GET /api/v1/stats", protected(h.Stats))
	mux.Handle("GET /api/v1/history", protected(h.History))

	// Credits are read-only for account holders
	mux.Handle("GET /api/v1/credits", protected(h.ListCredits))

	// Purchases arrive signed by the payment processor, never with a user token
	if webhooks != nil {
		mux.Handle("POST /webhooks/payments", mw.WebhookSignature(webhooks)(http.HandlerFunc(h.PaymentWebhook)))
	}

	// Apply middleware stack
	var handler http.Handler = mux

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
