package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/model"
)

// BatchRepository persists send batch manifests
type BatchRepository struct {
	db *database.Postgres
}

// NewBatchRepository creates a new BatchRepository
func NewBatchRepository(db *database.Postgres) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, account_id, status, delay_ms, attempt_ids::text[], sent, failed, skipped, error,
	created_at, started_at, finished_at`

// Create stores a new manifest
func (r *BatchRepository) Create(ctx context.Context, b *model.Batch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_batches (id, account_id, status, delay_ms, attempt_ids, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::uuid[], '{}'), $6)
	`, b.ID, b.AccountID, b.Status, b.Delay.Milliseconds(), pq.Array(b.AttemptIDs), b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetByID retrieves a manifest owned by the account
func (r *BatchRepository) GetByID(ctx context.Context, accountID, id string) (*model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM send_batches WHERE id = $1 AND account_id = $2`
	b, err := scanBatch(r.db.QueryRowContext(ctx, query, id, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// GetStatus reads only the durable status, for the per-item cancel check
func (r *BatchRepository) GetStatus(ctx context.Context, id string) (model.BatchStatus, error) {
	var status model.BatchStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM send_batches WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get batch status: %w", err)
	}
	return status, nil
}

// MarkRunning moves a queued batch to running. ErrConflict means it was
// cancelled before it started.
func (r *BatchRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_batches SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'queued'
	`, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateProgress records the running counters
func (r *BatchRepository) UpdateProgress(ctx context.Context, id string, sent, failed, skipped int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE send_batches SET sent = $2, failed = $3, skipped = $4 WHERE id = $1
	`, id, sent, failed, skipped)
	if err != nil {
		return fmt.Errorf("failed to update batch progress: %w", err)
	}
	return nil
}

// Finish moves an active batch to a terminal status. A batch that was
// cancelled meanwhile keeps its cancelled status.
func (r *BatchRepository) Finish(ctx context.Context, id string, status model.BatchStatus, errMsg string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE send_batches SET status = $2, error = $3, finished_at = $4
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, status, errMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	return nil
}

// Cancel durably marks an active batch cancelled. ErrConflict means the
// batch had already reached a terminal status.
func (r *BatchRepository) Cancel(ctx context.Context, accountID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_batches SET status = 'cancelled', finished_at = $3
		WHERE id = $1 AND account_id = $2 AND status IN ('queued', 'running')
	`, id, accountID, at)
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, accountID, id); err != nil {
		return err
	}
	return ErrConflict
}

// AbortStale marks batches left active by a previous process as aborted
func (r *BatchRepository) AbortStale(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_batches SET status = 'aborted', error = 'process restarted', finished_at = $1
		WHERE status IN ('queued', 'running')
	`, at)
	if err != nil {
		return 0, fmt.Errorf("failed to abort stale batches: %w", err)
	}
	return res.RowsAffected()
}

func scanBatch(row rowScanner) (*model.Batch, error) {
	var b model.Batch
	var delayMS int64
	var ids []string
	err := row.Scan(
		&b.ID,
		&b.AccountID,
		&b.Status,
		&delayMS,
		pq.Array(&ids),
		&b.Sent,
		&b.Failed,
		&b.Skipped,
		&b.Error,
		&b.CreatedAt,
		&b.StartedAt,
		&b.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Delay = time.Duration(delayMS) * time.Millisecond
	b.AttemptIDs = ids
	return &b, nil
}
