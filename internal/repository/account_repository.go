package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/model"
)

// AccountRepository handles accounts and the credit ledger
type AccountRepository struct {
	db *database.Postgres
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.Postgres) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts an account and, when it starts with credits, the grant entry
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, email, name, credits, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, account.ID, account.Email, account.Name, account.Credits, account.CreatedAt, account.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		if account.Credits > 0 {
			entry := &model.CreditTransaction{
				ID:           uuid.New().String(),
				AccountID:    account.ID,
				Kind:         model.CreditKindGrant,
				Amount:       account.Credits,
				BalanceAfter: account.Credits,
				CreatedAt:    account.CreatedAt,
			}
			if err := insertLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	query := `
		SELECT id, email, name, credits, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an account by its login email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	query := `
		SELECT id, email, name, credits, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM accounts
		WHERE lower(email) = lower($1)
	`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.Credits,
		&a.AccessToken,
		&a.RefreshToken,
		&a.TokenExpiry,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// UpdateTokens stores the mailbox OAuth tokens for an account. An empty
// refresh token keeps the stored one, since providers only return it once.
func (r *AccountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    token_expiry = $4,
		    updated_at = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddCredits increases the balance and writes the ledger entry in one
// transaction. A purchase whose reference was already applied returns
// ErrDuplicate and leaves the balance unchanged.
func (r *AccountRepository) AddCredits(ctx context.Context, id string, amount int, kind model.CreditKind, reference string) (int, error) {
	var balance int
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET credits = credits + $2, updated_at = $3
			WHERE id = $1
			RETURNING credits
		`, id, amount, time.Now().UTC()).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to add credits: %w", err)
		}

		return insertLedgerEntry(ctx, tx, &model.CreditTransaction{
			ID:           uuid.New().String(),
			AccountID:    id,
			Kind:         kind,
			Amount:       amount,
			BalanceAfter: balance,
			Reference:    reference,
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListTransactions returns the newest ledger entries for an account
func (r *AccountRepository) ListTransactions(ctx context.Context, accountID string, limit int) ([]*model.CreditTransaction, error) {
	query := `
		SELECT id, account_id, kind, amount, balance_after, COALESCE(reference, ''), created_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var entries []*model.CreditTransaction
	for rows.Next() {
		var e model.CreditTransaction
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, e *model.CreditTransaction) error {
	var reference sql.NullString
	if e.Reference != "" {
		reference = sql.NullString{String: e.Reference, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, account_id, kind, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.AccountID, e.Kind, e.Amount, e.BalanceAfter, reference, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}
