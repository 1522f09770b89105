package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/model"
)

// ContactRepository persists contacts. The unique index on the normalized
// (email, company) pair is the dedup index.
type ContactRepository struct {
	db *database.Postgres
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *database.Postgres) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, account_id, name, email, company, role, company_type, notes, status, created_at`

// Insert stores a contact unless one with the same dedup key exists.
// It reports false, without error, when the contact was already present;
// a concurrent insert that loses the race also lands there.
func (r *ContactRepository) Insert(ctx context.Context, c *model.Contact) (bool, error) {
	query := `
		INSERT INTO contacts (` + contactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	var id string
	err := r.db.QueryRowContext(ctx, query,
		c.ID,
		c.AccountID,
		c.Name,
		c.Email,
		c.Company,
		c.Role,
		c.CompanyType,
		c.Notes,
		c.Status,
		c.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert contact: %w", err)
	}
	return true, nil
}

// Exists checks the dedup index for an (email, company) pair
func (r *ContactRepository) Exists(ctx context.Context, accountID, email, company string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM contacts
			WHERE account_id = $1
			  AND lower(btrim(email)) = lower(btrim($2))
			  AND lower(btrim(company)) = lower(btrim($3))
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, accountID, email, company).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check contact existence: %w", err)
	}
	return exists, nil
}

// ListEligible returns new contacts that have no attempt yet, oldest first
func (r *ContactRepository) ListEligible(ctx context.Context, accountID string, limit int) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts c
		WHERE c.account_id = $1
		  AND c.status = 'new'
		  AND NOT EXISTS (SELECT 1 FROM outreach_attempts a WHERE a.contact_id = c.id)
		ORDER BY c.created_at, c.id
		LIMIT $2
	`
	return r.query(ctx, query, accountID, limit)
}

// List returns contacts for an account, optionally filtered by status
func (r *ContactRepository) List(ctx context.Context, accountID string, status model.ContactStatus, limit int) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE account_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, id
		LIMIT $3
	`
	return r.query(ctx, query, accountID, string(status), limit)
}

// CountByStatus returns the number of contacts in each status
func (r *ContactRepository) CountByStatus(ctx context.Context, accountID string) (map[model.ContactStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM contacts WHERE account_id = $1 GROUP BY status
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ContactStatus]int)
	for rows.Next() {
		var status model.ContactStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan contact count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *ContactRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(
			&c.ID,
			&c.AccountID,
			&c.Name,
			&c.Email,
			&c.Company,
			&c.Role,
			&c.CompanyType,
			&c.Notes,
			&c.Status,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
