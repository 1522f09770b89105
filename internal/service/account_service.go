package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/repository"
)

// AccountService manages accounts and their mailbox connection
type AccountService struct {
	accounts AccountStore
	validate *validator.Validate
	cfg      *config.Config
	log      *logger.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(accounts AccountStore, cfg *config.Config, log *logger.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		validate: newValidator(),
		cfg:      cfg,
		log:      log.WithComponent("account_service"),
	}
}

// CreateAccount registers an account with the configured starting credits
func (s *AccountService) CreateAccount(ctx context.Context, email, name string) (*model.Account, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, validationError("email: must be a valid address")
	}

	now := time.Now().UTC()
	account := &model.Account{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Credits:   s.cfg.Outreach.InitialCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	s.log.Info().Str("account_id", account.ID).Int("credits", account.Credits).Msg("account created")
	return account, nil
}

// GetAccount returns an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

// ConnectMailbox stores OAuth tokens obtained by the frontend's consent flow
func (s *AccountService) ConnectMailbox(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	if accessToken == "" && refreshToken == "" {
		return validationError("an access token or refresh token is required")
	}
	err := s.accounts.UpdateTokens(ctx, id, accessToken, refreshToken, expiry)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to connect mailbox: %w", err)
	}
	s.log.Info().Str("account_id", id).Msg("mailbox connected")
	return nil
}
