package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/model"
)

// AttemptRepository persists outreach attempts
type AttemptRepository struct {
	db *database.Postgres
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.Postgres) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const attemptColumns = `id, account_id, COALESCE(contact_id::text, ''), recipient_email, recipient_name, company,
	subject, status, provider_draft_id, provider_message_id, created_at, sent_at`

// CommitDrafts records the attempts of one drafting run in a single
// transaction. An attempt whose contact already has one is skipped and not
// charged. The remaining attempts are inserted, their contacts marked
// contacted, and one credit per attempt debited. The debit is conditional on
// the balance covering it; when it does not, nothing is written and
// ErrInsufficientCredits is returned. It returns the inserted attempts and
// the balance after the debit.
func (r *AttemptRepository) CommitDrafts(ctx context.Context, accountID string, attempts []*model.Attempt) ([]*model.Attempt, int, error) {
	var balance int
	var committed []*model.Attempt
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		committed = committed[:0]
		contactIDs := make([]string, 0, len(attempts))
		for _, a := range attempts {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO outreach_attempts (id, account_id, contact_id, recipient_email, recipient_name, company,
					subject, status, provider_draft_id, created_at)
				VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (contact_id) WHERE contact_id IS NOT NULL DO NOTHING
			`, a.ID, accountID, a.ContactID, a.RecipientEmail, a.RecipientName, a.Company,
				a.Subject, a.Status, a.ProviderDraftID, a.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert attempt: %w", err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to insert attempt: %w", err)
			}
			if rows == 0 {
				continue
			}
			committed = append(committed, a)
			if a.ContactID != "" {
				contactIDs = append(contactIDs, a.ContactID)
			}
		}

		cost := len(committed)
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET credits = credits - $2, updated_at = $3
			WHERE id = $1 AND credits >= $2
			RETURNING credits
		`, accountID, cost, time.Now().UTC()).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("failed to debit credits: %w", err)
		}
		if cost == 0 {
			return nil
		}

		if len(contactIDs) > 0 {
			_, err := tx.ExecContext(ctx, `
				UPDATE contacts SET status = 'contacted'
				WHERE account_id = $1 AND id = ANY($2::uuid[]) AND status = 'new'
			`, accountID, pq.Array(contactIDs))
			if err != nil {
				return fmt.Errorf("failed to update contact status: %w", err)
			}
		}

		return insertLedgerEntry(ctx, tx, &model.CreditTransaction{
			ID:           uuid.New().String(),
			AccountID:    accountID,
			Kind:         model.CreditKindDraftDebit,
			Amount:       -cost,
			BalanceAfter: balance,
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return committed, balance, nil
}

// GetByID retrieves an attempt owned by the account
func (r *AttemptRepository) GetByID(ctx context.Context, accountID, id string) (*model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM outreach_attempts WHERE id = $1 AND account_id = $2`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, query, id, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

// ListIDsByStatus returns attempt IDs in creation order
func (r *AttemptRepository) ListIDsByStatus(ctx context.Context, accountID string, status model.AttemptStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM outreach_attempts
		WHERE account_id = $1 AND status = $2
		ORDER BY created_at, id
	`, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan attempt id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns attempts newest first, optionally filtered by status
func (r *AttemptRepository) List(ctx context.Context, accountID string, status model.AttemptStatus, limit int) ([]*model.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM outreach_attempts
		WHERE account_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, id
		LIMIT $3
	`, accountID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountByStatus returns the number of attempts in each status
func (r *AttemptRepository) CountByStatus(ctx context.Context, accountID string) (map[model.AttemptStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM outreach_attempts WHERE account_id = $1 GROUP BY status
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.AttemptStatus]int)
	for rows.Next() {
		var status model.AttemptStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// MarkSent moves a draft to sent. Only a draft with a provider id can
// transition; anything else yields ErrNotFound so a repeated send is
// rejected instead of applied twice.
func (r *AttemptRepository) MarkSent(ctx context.Context, accountID, id, providerMessageID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_attempts
		SET status = 'sent', sent_at = $3, provider_message_id = NULLIF($4, '')
		WHERE id = $1 AND account_id = $2 AND status = 'draft' AND provider_draft_id IS NOT NULL
	`, id, accountID, sentAt, providerMessageID)
	if err != nil {
		return fmt.Errorf("failed to mark attempt sent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark attempt sent: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	var a model.Attempt
	err := row.Scan(
		&a.ID,
		&a.AccountID,
		&a.ContactID,
		&a.RecipientEmail,
		&a.RecipientName,
		&a.Company,
		&a.Subject,
		&a.Status,
		&a.ProviderDraftID,
		&a.ProviderMessageID,
		&a.CreatedAt,
		&a.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
