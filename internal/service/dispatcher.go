package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/repository"
)

// Dispatcher runs batch sends in the background. Each batch is a single
// sequential loop over the attempt ids captured at enqueue time; batches
// for different accounts run concurrently.
type Dispatcher struct {
	outreach *OutreachService
	batches  BatchStore
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	running map[string]*batchRun
	wg      sync.WaitGroup
}

type batchRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(outreach *OutreachService, batches BatchStore, cfg *config.Config, log *logger.Logger) *Dispatcher {
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		outreach: outreach,
		batches:  batches,
		cfg:      cfg,
		log:      log.WithComponent("dispatcher"),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		baseCtx:  ctx,
		stop:     stop,
		running:  make(map[string]*batchRun),
	}
}

// EnqueueBatch snapshots the account's draft attempts and returns once the
// manifest is stored. Sends happen in the background, delay apart.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, accountID string, delay time.Duration) (*model.Batch, error) {
	if delay < 0 {
		return nil, validationError("delay must not be negative")
	}
	if limit := d.cfg.Outreach.MaxBatchDelay; limit > 0 && delay > limit {
		return nil, validationError("delay must not exceed %s", limit)
	}
	if d.baseCtx.Err() != nil {
		return nil, errors.New("dispatcher is shutting down")
	}

	if _, err := d.outreach.getAccount(ctx, accountID); err != nil {
		return nil, err
	}

	ids, err := d.outreach.attempts.ListIDsByStatus(ctx, accountID, model.AttemptStatusDraft)
	if err != nil {
		return nil, err
	}

	now := d.now()
	batch := &model.Batch{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Status:     model.BatchStatusQueued,
		Delay:      delay,
		AttemptIDs: ids,
		CreatedAt:  now,
	}
	if len(ids) == 0 {
		batch.Status = model.BatchStatusCompleted
		batch.FinishedAt = &now
	}
	if err := d.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return batch, nil
	}

	runCtx, cancel := context.WithCancel(d.baseCtx)
	run := &batchRun{cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.running[batch.ID] = run
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(runCtx, run, *batch)

	d.log.Info().
		Str("account_id", accountID).
		Str("batch_id", batch.ID).
		Int("queued", len(ids)).
		Dur("delay", delay).
		Msg("batch enqueued")
	return batch, nil
}

func (d *Dispatcher) run(ctx context.Context, run *batchRun, batch model.Batch) {
	defer func() {
		run.cancel()
		d.mu.Lock()
		delete(d.running, batch.ID)
		d.mu.Unlock()
		close(run.done)
		d.wg.Done()
	}()

	log := d.log.WithAccountID(batch.AccountID).WithBatchID(batch.ID)
	// Manifest writes must land even after the run is cancelled.
	store := context.WithoutCancel(ctx)

	finish := func(status model.BatchStatus, msg string) {
		if err := d.batches.Finish(store, batch.ID, status, msg, d.now()); err != nil {
			log.Error().Err(err).Str("status", string(status)).Msg("failed to finish batch")
		}
	}

	if err := d.batches.MarkRunning(store, batch.ID, d.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Info().Msg("batch cancelled before start")
			return
		}
		log.Error().Err(err).Msg("failed to start batch")
		finish(model.BatchStatusAborted, err.Error())
		return
	}

	account, err := d.outreach.getAccount(ctx, batch.AccountID)
	if err != nil {
		log.Error().Err(err).Msg("batch aborted, account unavailable")
		finish(model.BatchStatusAborted, err.Error())
		return
	}
	mailbox, err := d.outreach.authenticate(ctx, account)
	if err != nil {
		log.Error().Err(err).Msg("batch aborted before any send")
		finish(model.BatchStatusAborted, err.Error())
		return
	}

	var sent, failed, skipped int
	last := len(batch.AttemptIDs) - 1
	for i, attemptID := range batch.AttemptIDs {
		if d.cancelled(ctx, store, batch.ID, log) {
			finish(model.BatchStatusCancelled, "")
			return
		}

		_, err := d.outreach.deliver(ctx, mailbox, batch.AccountID, attemptID)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrConcurrentOperation):
			// sent through another path since the snapshot
			skipped++
			log.Info().Err(err).Str("attempt_id", attemptID).Msg("attempt skipped")
		case ctx.Err() != nil:
			log.Info().Str("attempt_id", attemptID).Msg("batch cancelled during send")
			finish(model.BatchStatusCancelled, "")
			return
		default:
			failed++
			log.Warn().Err(err).Str("attempt_id", attemptID).Msg("send failed")
		}

		if err := d.batches.UpdateProgress(store, batch.ID, sent, failed, skipped); err != nil {
			log.Warn().Err(err).Msg("failed to record batch progress")
		}

		if i < last && batch.Delay > 0 {
			if err := d.sleep(ctx, batch.Delay); err != nil {
				log.Info().Msg("batch cancelled while waiting")
				finish(model.BatchStatusCancelled, "")
				return
			}
		}
	}

	finish(model.BatchStatusCompleted, "")
	log.Info().Int("sent", sent).Int("failed", failed).Int("skipped", skipped).Msg("batch completed")
}

// cancelled is the cooperative check before each send. It honours both the
// in-process context and the durable manifest status, so a cancel issued
// through another replica is seen too.
func (d *Dispatcher) cancelled(ctx, store context.Context, batchID string, log *logger.Logger) bool {
	if ctx.Err() != nil {
		log.Info().Msg("batch cancelled")
		return true
	}
	status, err := d.batches.GetStatus(store, batchID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read batch status")
		return false
	}
	if status == model.BatchStatusCancelled {
		log.Info().Msg("batch cancelled")
		return true
	}
	return false
}

// CancelBatch durably marks a batch cancelled and stops its loop before the
// next send. A send already in flight completes.
func (d *Dispatcher) CancelBatch(ctx context.Context, accountID, batchID string) (*model.Batch, error) {
	err := d.batches.Cancel(ctx, accountID, batchID, d.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrBatchNotFound
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrBatchFinished
	case err != nil:
		return nil, err
	}

	d.mu.Lock()
	if run, ok := d.running[batchID]; ok {
		run.cancel()
	}
	d.mu.Unlock()

	d.log.Info().Str("account_id", accountID).Str("batch_id", batchID).Msg("batch cancelled")
	return d.GetBatch(ctx, accountID, batchID)
}

// GetBatch returns a manifest with its progress counters
func (d *Dispatcher) GetBatch(ctx context.Context, accountID, batchID string) (*model.Batch, error) {
	b, err := d.batches.GetByID(ctx, accountID, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

// Wait blocks until the batch's loop in this process has exited
func (d *Dispatcher) Wait(ctx context.Context, batchID string) error {
	d.mu.Lock()
	run, ok := d.running[batchID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverStale aborts manifests left active by a previous process. Call it
// once at startup, before enqueueing.
func (d *Dispatcher) RecoverStale(ctx context.Context) error {
	n, err := d.batches.AbortStale(ctx, d.now())
	if err != nil {
		return err
	}
	if n > 0 {
		d.log.Warn().Int64("batches", n).Msg("aborted batches left running by a previous process")
	}
	return nil
}

// Shutdown cancels every running batch and waits for the loops to exit
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
