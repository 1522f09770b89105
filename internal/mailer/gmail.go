package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenStore persists refreshed OAuth tokens
type TokenStore interface {
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error
}

// GmailProvider opens Gmail sessions from the OAuth tokens stored on an account
type GmailProvider struct {
	oauth    *oauth2.Config
	endpoint string
	limit    rate.Limit
	burst    int
	tokens   TokenStore
	log      *logger.Logger
}

// NewGmailProvider creates a GmailProvider. tokens may be nil, in which case
// refreshed tokens are not written back.
func NewGmailProvider(cfg config.GmailConfig, tokens TokenStore, log *logger.Logger) *GmailProvider {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &GmailProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gmail.GmailComposeScope},
		},
		endpoint: cfg.Endpoint,
		limit:    limit,
		burst:    burst,
		tokens:   tokens,
		log:      log.WithComponent("gmail"),
	}
}

// Authenticate validates the account's tokens, refreshing them if expired,
// and returns a paced mailbox session.
func (p *GmailProvider) Authenticate(ctx context.Context, account *model.Account) (Mailbox, error) {
	if !account.HasMailboxCredentials() {
		return nil, fmt.Errorf("%w: no mailbox connected", ErrNotAuthenticated)
	}

	stored := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
	}
	if account.TokenExpiry != nil {
		stored.Expiry = *account.TokenExpiry
	}

	ts := p.oauth.TokenSource(ctx, stored)
	current, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	if current.AccessToken != stored.AccessToken && p.tokens != nil {
		var expiry *time.Time
		if !current.Expiry.IsZero() {
			expiry = &current.Expiry
		}
		if err := p.tokens.UpdateTokens(ctx, account.ID, current.AccessToken, current.RefreshToken, expiry); err != nil {
			p.log.Warn().Err(err).Str("account_id", account.ID).Msg("failed to persist refreshed token")
		} else {
			p.log.Debug().Str("account_id", account.ID).Msg("refreshed mailbox token")
		}
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &gmailMailbox{
		service: svc,
		limiter: rate.NewLimiter(p.limit, p.burst),
	}, nil
}

type gmailMailbox struct {
	service *gmail.Service
	limiter *rate.Limiter
}

func (m *gmailMailbox) CreateDraft(ctx context.Context, d Draft) (string, error) {
	raw, err := BuildMessage(d)
	if err != nil {
		return "", err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}

	draft := &gmail.Draft{
		Message: &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)},
	}
	created, err := m.service.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to create draft: %w", err)
	}
	if created == nil || created.Id == "" {
		return "", ErrEmptyResponse
	}
	return created.Id, nil
}

func (m *gmailMailbox) SendDraft(ctx context.Context, draftID string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}

	msg, err := m.service.Users.Drafts.Send("me", &gmail.Draft{Id: draftID}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to send draft: %w", err)
	}
	if msg == nil || msg.Id == "" {
		return "", ErrEmptyResponse
	}
	return msg.Id, nil
}

func (m *gmailMailbox) DeleteDraft(ctx context.Context, draftID string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := m.service.Users.Drafts.Delete("me", draftID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: failed to delete draft: %w", err)
	}
	return nil
}
