package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/outreachpro/outreach/internal/auth"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) (*Middleware, *miniredis.Miniredis, *bytes.Buffer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	var buf bytes.Buffer
	return New(database.NewRedisFromClient(client), logger.NewWithWriter(&buf, "debug", "json"), cfg), mr, &buf
}

func echoAccount(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetAccountID(r.Context())))
}

func TestAuth(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	tokens, err := auth.NewTokenService(config.TokenConfig{Secret: "s3cret", Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)
	h := m.Auth(tokens)(http.HandlerFunc(echoAccount))

	token, err := tokens.Issue("acc-1", "sam@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "acc-1"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, "acc-1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestRateLimitPerKey(t *testing.T) {
	m, mr, _ := newTestMiddleware(t)
	key := "acc-1"
	h := m.RateLimit(RateLimitConfig{
		Name:   "drafts",
		Limit:  2,
		Window: time.Minute,
		KeyFn:  func(*http.Request) string { return key },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/drafts", nil))
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do().Code)

	limited := do()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	key = "acc-2"
	assert.Equal(t, http.StatusOK, do().Code)

	key = "acc-1"
	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, do().Code)
}

func TestRateLimitDisabled(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	m.cfg.Security.RateLimiting.Enabled = false
	h := m.RateLimit(RateLimitConfig{Name: "x", Limit: 1, Window: time.Minute, KeyFn: IPKey})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRecover(t *testing.T) {
	m, _, buf := newTestMiddleware(t)
	h := m.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestRequestIDAndLogger(t *testing.T) {
	m, _, buf := newTestMiddleware(t)
	h := m.RequestID(m.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"status":418`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWebhookSignature(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	verifier, err := auth.NewWebhookVerifier(config.WebhookConfig{Secret: "whsec_test"})
	require.NoError(t, err)
	h := m.WebhookSignature(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))

	payload := `{"accountId":"acc-1","amount":50,"reference":"evt_1"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(payload))
	req.Header.Set(SignatureHeader, verifier.Sign(time.Now(), []byte(payload)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(payload))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tampered := `{"accountId":"acc-1","amount":5000,"reference":"evt_1"}`
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(tampered))
	req.Header.Set(SignatureHeader, verifier.Sign(time.Now(), []byte(payload)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature_invalid")
}
