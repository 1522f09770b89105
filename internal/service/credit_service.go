package service

import (
	"context"
	"errors"

	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/repository"
)

// CreditService exposes the credit ledger outside of drafting runs
type CreditService struct {
	accounts AccountStore
	log      *logger.Logger
}

// NewCreditService creates a new CreditService
func NewCreditService(accounts AccountStore, log *logger.Logger) *CreditService {
	return &CreditService{
		accounts: accounts,
		log:      log.WithComponent("credit_service"),
	}
}

// AddCredits applies an externally verified purchase. Replaying a
// reference that was already applied changes nothing and returns the
// current balance.
func (s *CreditService) AddCredits(ctx context.Context, accountID string, amount int, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.accounts.AddCredits(ctx, accountID, amount, model.CreditKindPurchase, reference)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return 0, ErrAccountNotFound
	case errors.Is(err, repository.ErrDuplicate):
		s.log.Info().Str("account_id", accountID).Str("reference", reference).Msg("purchase already applied")
		return s.Balance(ctx, accountID)
	case err != nil:
		return 0, err
	}

	s.log.Ledger(accountID, string(model.CreditKindPurchase), amount, balance, reference)
	return balance, nil
}

// Balance returns the current credit balance
func (s *CreditService) Balance(ctx context.Context, accountID string) (int, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return account.Credits, nil
}

// Transactions returns the newest ledger entries
func (s *CreditService) Transactions(ctx context.Context, accountID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.accounts.ListTransactions(ctx, accountID, limit)
}
