package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outreachpro/outreach/internal/config"
)

// Webhook verification errors
var (
	ErrSignatureMissing = errors.New("webhook signature is missing")
	ErrSignatureInvalid = errors.New("webhook signature is invalid")
	ErrSignatureExpired = errors.New("webhook signature timestamp is outside the tolerance")
)

// WebhookVerifier checks payment events signed with the shared webhook
// secret. The header has the form "t=<unix seconds>,v1=<hex hmac>", where the
// HMAC-SHA256 covers "<t>.<raw body>".
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier creates a verifier. It returns ErrNoSecret when no secret
// is configured.
func NewWebhookVerifier(cfg config.WebhookConfig) (*WebhookVerifier, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookVerifier{secret: []byte(cfg.Secret), tolerance: tolerance, now: time.Now}, nil
}

// Sign returns the signature header for payload sent at ts
func (v *WebhookVerifier) Sign(ts time.Time, payload []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", unix, v.mac(unix, payload))
}

// Verify checks header against payload
func (v *WebhookVerifier) Verify(header string, payload []byte) error {
	if header == "" {
		return ErrSignatureMissing
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrSignatureInvalid
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if age := v.now().Sub(time.Unix(unix, 0)); age > v.tolerance || age < -v.tolerance {
		return ErrSignatureExpired
	}

	expected := []byte(v.mac(ts, payload))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

func (v *WebhookVerifier) mac(ts string, payload []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
