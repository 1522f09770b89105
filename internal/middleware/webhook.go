package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/outreachpro/outreach/internal/auth"
)

// SignatureHeader carries the payment processor's webhook signature
const SignatureHeader = "X-Outreach-Signature"

const maxWebhookBody = 64 << 10

// WebhookSignature rejects requests whose body is not signed with the
// webhook secret. The verified body is handed on unchanged.
func (m *Middleware) WebhookSignature(verifier *auth.WebhookVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body is too large")
				return
			}

			if err := verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
				m.log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("webhook signature rejected")
				writeError(w, http.StatusUnauthorized, "signature_invalid", "The webhook signature is invalid")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
