package service

import (
	"context"
	"time"

	"github.com/outreachpro/outreach/internal/model"
)

// AccountStore is implemented by repository.AccountRepository
type AccountStore interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error
	AddCredits(ctx context.Context, id string, amount int, kind model.CreditKind, reference string) (int, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]*model.CreditTransaction, error)
}

// ContactStore is implemented by repository.ContactRepository
type ContactStore interface {
	Insert(ctx context.Context, c *model.Contact) (bool, error)
	Exists(ctx context.Context, accountID, email, company string) (bool, error)
	ListEligible(ctx context.Context, accountID string, limit int) ([]*model.Contact, error)
	List(ctx context.Context, accountID string, status model.ContactStatus, limit int) ([]*model.Contact, error)
	CountByStatus(ctx context.Context, accountID string) (map[model.ContactStatus]int, error)
}

// AttemptStore is implemented by repository.AttemptRepository
type AttemptStore interface {
	CommitDrafts(ctx context.Context, accountID string, attempts []*model.Attempt) (committed []*model.Attempt, balance int, err error)
	GetByID(ctx context.Context, accountID, id string) (*model.Attempt, error)
	ListIDsByStatus(ctx context.Context, accountID string, status model.AttemptStatus) ([]string, error)
	List(ctx context.Context, accountID string, status model.AttemptStatus, limit int) ([]*model.Attempt, error)
	CountByStatus(ctx context.Context, accountID string) (map[model.AttemptStatus]int, error)
	MarkSent(ctx context.Context, accountID, id, providerMessageID string, sentAt time.Time) error
}

// BatchStore is implemented by repository.BatchRepository
type BatchStore interface {
	Create(ctx context.Context, b *model.Batch) error
	GetByID(ctx context.Context, accountID, id string) (*model.Batch, error)
	GetStatus(ctx context.Context, id string) (model.BatchStatus, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, sent, failed, skipped int) error
	Finish(ctx context.Context, id string, status model.BatchStatus, errMsg string, finishedAt time.Time) error
	Cancel(ctx context.Context, accountID, id string, at time.Time) error
	AbortStale(ctx context.Context, at time.Time) (int64, error)
}
