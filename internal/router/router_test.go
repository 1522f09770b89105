package router

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/outreachpro/outreach/internal/auth"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/handler"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/middleware"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okHealth struct{}

func (okHealth) HealthCheck(context.Context) error { return nil }

type accounts struct{}

func (accounts) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return &model.Account{ID: id}, nil
}

func (accounts) ConnectMailbox(context.Context, string, string, string, *time.Time) error {
	return nil
}

type ledger struct{ balance map[string]int }

func (l *ledger) AddCredits(ctx context.Context, accountID string, amount int, reference string) (int, error) {
	l.balance[accountID] += amount
	return l.balance[accountID], nil
}

func (l *ledger) Transactions(context.Context, string, int) ([]*model.CreditTransaction, error) {
	return nil, nil
}

type testRouter struct {
	http.Handler
	tokens   *auth.TokenService
	webhooks *auth.WebhookVerifier
	ledger   *ledger
}

func newTestRouter(t *testing.T) (http.Handler, *auth.TokenService) {
	tr := newWebhookRouter(t)
	return tr.Handler, tr.tokens
}

func newWebhookRouter(t *testing.T) *testRouter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rdb := database.NewRedisFromClient(client)

	cfg := &config.Config{}
	cfg.Security.Tokens = config.TokenConfig{Secret: "router-secret", TTL: time.Hour}
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: true, DraftLimit: 20, SendLimit: 20, Window: time.Minute}

	cfg.Security.Webhook = config.WebhookConfig{Secret: "whsec_router"}

	tokens, err := auth.NewTokenService(cfg.Security.Tokens)
	require.NoError(t, err)
	webhooks, err := auth.NewWebhookVerifier(cfg.Security.Webhook)
	require.NoError(t, err)

	log := logger.Nop()
	credits := &ledger{balance: map[string]int{}}
	h := handler.New(okHealth{}, rdb, log, cfg, accounts{}, credits, nil, nil, nil)
	return &testRouter{
		Handler:  New(h, middleware.New(rdb, log, cfg), cfg, tokens, webhooks),
		tokens:   tokens,
		webhooks: webhooks,
		ledger:   credits,
	}
}

func TestPublicRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, tokens := newTestRouter(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/stats"},
		{http.MethodPost, "/api/v1/drafts"},
		{http.MethodPost, "/api/v1/attempts/a1/send"},
		{http.MethodPost, "/api/v1/batches/b1/cancel"},
		{http.MethodGet, "/api/v1/credits"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}

	token, err := tokens.Issue("acc-1", "")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"acc-1"`)
}

func TestAccountTokenCannotAddCredits(t *testing.T) {
	r := newWebhookRouter(t)
	const acc = "8f14e45f-ceea-467f-a0e6-0a7f3c2b9d10"
	token, err := r.tokens.Issue(acc, "")
	require.NoError(t, err)
	payload := `{"accountId":"` + acc + `","amount":1000000,"reference":"anything"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits", bytes.NewBufferString(`{"amount":1000000,"reference":"anything"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(payload))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, r.ledger.balance[acc])
}

func TestSignedPaymentWebhook(t *testing.T) {
	r := newWebhookRouter(t)
	const acc = "8f14e45f-ceea-467f-a0e6-0a7f3c2b9d10"
	payload := []byte(`{"accountId":"` + acc + `","amount":50,"reference":"evt_1"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(middleware.SignatureHeader, r.webhooks.Sign(time.Now(), payload))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, r.ledger.balance[acc])
}

func TestPaymentWebhookDisabledWithoutSecret(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rdb := database.NewRedisFromClient(client)

	cfg := &config.Config{}
	tokens, err := auth.NewTokenService(config.TokenConfig{Secret: "router-secret", TTL: time.Hour})
	require.NoError(t, err)
	h := handler.New(okHealth{}, rdb, logger.Nop(), cfg, accounts{}, nil, nil, nil, nil)
	r := New(h, middleware.New(rdb, logger.Nop(), cfg), cfg, tokens, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
