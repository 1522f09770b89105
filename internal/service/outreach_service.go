package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/generator"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/mailer"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/repository"
)

const (
	// maxDraftRun bounds the contacts considered by one drafting run
	maxDraftRun = 10000
	// maxPreview bounds a preview request
	maxPreview = 50
)

// DraftOptions configures one drafting run
type DraftOptions struct {
	// Generator selects the content generator; empty uses the default
	Generator string
	// Limit caps the number of contacts drafted; zero drafts all eligible
	Limit int
	// Attachments are added to every draft
	Attachments []mailer.Attachment
}

// OutreachService drives contacts through new -> draft -> sent
type OutreachService struct {
	accounts   AccountStore
	contacts   ContactStore
	attempts   AttemptStore
	provider   mailer.Provider
	generators *generator.Registry
	locker     Locker
	cfg        *config.Config
	log        *logger.Logger
	now        func() time.Time
}

// NewOutreachService creates a new OutreachService
func NewOutreachService(
	accounts AccountStore,
	contacts ContactStore,
	attempts AttemptStore,
	provider mailer.Provider,
	generators *generator.Registry,
	locker Locker,
	cfg *config.Config,
	log *logger.Logger,
) *OutreachService {
	return &OutreachService{
		accounts:   accounts,
		contacts:   contacts,
		attempts:   attempts,
		provider:   provider,
		generators: generators,
		locker:     locker,
		cfg:        cfg,
		log:        log.WithComponent("outreach_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateDraftsForNewContacts creates a provider draft for every eligible
// contact. The whole run is rejected up front when credits do not cover
// every contact; afterwards only successful drafts are charged, and they
// are committed together with the debit.
func (s *OutreachService) CreateDraftsForNewContacts(ctx context.Context, accountID string, opts DraftOptions) (*model.DraftResult, error) {
	gen, err := s.generators.Get(opts.Generator)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	lease, err := s.locker.Lock(ctx, draftLockKey(accountID), s.cfg.Outreach.LockTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxDraftRun {
		limit = maxDraftRun
	}
	contacts, err := s.contacts.ListEligible(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}

	log := s.log.WithAccountID(accountID)
	if len(contacts) == 0 {
		return &model.DraftResult{Attachments: len(opts.Attachments), RemainingCredits: account.Credits}, nil
	}
	if account.Credits < len(contacts) {
		log.Info().Int("required", len(contacts)).Int("available", account.Credits).Msg("drafting rejected, insufficient credits")
		return nil, &InsufficientCreditsError{Required: len(contacts), Available: account.Credits}
	}

	mailbox, err := s.authenticate(ctx, account)
	if err != nil {
		return nil, err
	}

	hasAttachments := len(opts.Attachments) > 0
	created := make([]*model.Attempt, 0, len(contacts))
	failed := 0
	for i, c := range contacts {
		if ctx.Err() != nil {
			failed += len(contacts) - i
			log.Warn().Err(ctx.Err()).Int("skipped", len(contacts)-i).Msg("drafting interrupted")
			break
		}
		if err := lease.Extend(ctx); err != nil {
			failed += len(contacts) - i
			log.Error().Err(err).Int("skipped", len(contacts)-i).Msg("drafting stopped, lock not renewed")
			break
		}

		attempt, err := s.draftOne(ctx, mailbox, gen, c, opts.Attachments, hasAttachments)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("contact_id", c.ID).Msg("draft failed")
			continue
		}
		created = append(created, attempt)
	}

	// Drafts that exist at the provider are recorded even if the caller went away.
	commitCtx := context.WithoutCancel(ctx)
	committed, remaining, err := s.attempts.CommitDrafts(commitCtx, accountID, created)
	if errors.Is(err, repository.ErrInsufficientCredits) {
		log.Error().Int("drafts", len(created)).Msg("credits changed during drafting, provider drafts left unrecorded")
		current, _ := s.accounts.GetByID(commitCtx, accountID)
		available := 0
		if current != nil {
			available = current.Credits
		}
		return nil, &InsufficientCreditsError{Required: len(created), Available: available}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit drafts: %w", err)
	}
	if dup := len(created) - len(committed); dup > 0 {
		failed += dup
		s.discardDuplicates(commitCtx, mailbox, log, created, committed)
	}

	result := &model.DraftResult{
		Success:          len(committed),
		Failed:           failed,
		Total:            len(contacts),
		Attachments:      len(opts.Attachments),
		RemainingCredits: remaining,
	}
	if result.Success > 0 {
		log.Ledger(accountID, string(model.CreditKindDraftDebit), -result.Success, remaining, "")
	}
	log.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Int("remaining_credits", result.RemainingCredits).
		Msg("drafting finished")
	return result, nil
}

func (s *OutreachService) draftOne(
	ctx context.Context,
	mailbox mailer.Mailbox,
	gen generator.Generator,
	c *model.Contact,
	attachments []mailer.Attachment,
	hasAttachments bool,
) (*model.Attempt, error) {
	content, err := gen.Generate(ctx, contactFields(c), hasAttachments)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	draftID, err := mailbox.CreateDraft(ctx, mailer.Draft{
		To:          c.Email,
		ToName:      c.Name,
		Subject:     content.Subject,
		Body:        content.Body,
		Attachments: attachments,
	})
	if err == nil && draftID == "" {
		err = mailer.ErrEmptyResponse
	}
	if err != nil {
		return nil, &ProviderOperationError{Op: "create_draft", Err: err}
	}

	return &model.Attempt{
		ID:              uuid.New().String(),
		AccountID:       c.AccountID,
		ContactID:       c.ID,
		RecipientEmail:  c.Email,
		RecipientName:   c.Name,
		Company:         c.Company,
		Subject:         content.Subject,
		Status:          model.AttemptStatusDraft,
		ProviderDraftID: &draftID,
		CreatedAt:       s.now(),
	}, nil
}

// discardDuplicates deletes provider drafts for contacts another run already
// recorded an attempt for. They were not charged.
func (s *OutreachService) discardDuplicates(ctx context.Context, mailbox mailer.Mailbox, log *logger.Logger, created, committed []*model.Attempt) {
	kept := make(map[string]bool, len(committed))
	for _, a := range committed {
		kept[a.ID] = true
	}
	for _, a := range created {
		if kept[a.ID] {
			continue
		}
		log.Warn().Str("contact_id", a.ContactID).Msg("contact already drafted by another run, discarding draft")
		if err := mailbox.DeleteDraft(ctx, *a.ProviderDraftID); err != nil {
			log.Warn().Err(err).Str("draft_id", *a.ProviderDraftID).Msg("failed to delete duplicate draft")
		}
	}
}

// SendAttempt sends the stored provider draft of one attempt. A second
// call on the same attempt is rejected with ErrAttemptNotFound.
func (s *OutreachService) SendAttempt(ctx context.Context, accountID, attemptID string) (*model.SendResult, error) {
	lease, err := s.locker.Lock(ctx, sendLockKey(attemptID), s.cfg.Outreach.LockTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	attempt, err := s.loadSendable(ctx, accountID, attemptID)
	if err != nil {
		return nil, err
	}

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	mailbox, err := s.authenticate(ctx, account)
	if err != nil {
		return nil, err
	}

	return s.send(ctx, mailbox, attempt)
}

// deliver is SendAttempt for callers that already hold a mailbox session
func (s *OutreachService) deliver(ctx context.Context, mailbox mailer.Mailbox, accountID, attemptID string) (*model.SendResult, error) {
	lease, err := s.locker.Lock(ctx, sendLockKey(attemptID), s.cfg.Outreach.LockTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	attempt, err := s.loadSendable(ctx, accountID, attemptID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, mailbox, attempt)
}

func (s *OutreachService) loadSendable(ctx context.Context, accountID, attemptID string) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, accountID, attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusDraft {
		return nil, ErrAttemptNotFound
	}
	if !attempt.Sendable() {
		return nil, ErrUnsendableAttempt
	}
	return attempt, nil
}

func (s *OutreachService) send(ctx context.Context, mailbox mailer.Mailbox, attempt *model.Attempt) (*model.SendResult, error) {
	messageID, err := mailbox.SendDraft(ctx, *attempt.ProviderDraftID)
	if err == nil && messageID == "" {
		err = mailer.ErrEmptyResponse
	}
	if err != nil {
		return nil, &ProviderOperationError{Op: "send_draft", Err: err}
	}

	sentAt := s.now()
	err = s.attempts.MarkSent(context.WithoutCancel(ctx), attempt.AccountID, attempt.ID, messageID, sentAt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID).Str("message_id", messageID).Msg("sent but failed to record")
		return nil, fmt.Errorf("failed to record send: %w", err)
	}

	s.log.Info().Str("account_id", attempt.AccountID).Str("attempt_id", attempt.ID).Msg("attempt sent")
	return &model.SendResult{
		AttemptID:         attempt.ID,
		Status:            model.AttemptStatusSent,
		SentAt:            sentAt,
		ProviderMessageID: messageID,
	}, nil
}

// Preview generates content for up to limit eligible contacts without
// creating drafts or spending credits
func (s *OutreachService) Preview(ctx context.Context, accountID string, limit int, kind string) ([]model.Preview, error) {
	gen, err := s.generators.Get(kind)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if limit <= 0 {
		limit = 5
	}
	limit = min(limit, maxPreview)

	contacts, err := s.contacts.ListEligible(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}

	previews := make([]model.Preview, 0, len(contacts))
	for _, c := range contacts {
		content, err := gen.Generate(ctx, contactFields(c), false)
		if err != nil {
			s.log.Warn().Err(err).Str("contact_id", c.ID).Msg("preview generation failed")
			continue
		}
		previews = append(previews, model.Preview{
			ContactID: c.ID,
			To:        c.Email,
			Name:      c.Name,
			Company:   c.Company,
			Subject:   content.Subject,
			Body:      content.Body,
		})
	}
	return previews, nil
}

// GetStats summarizes credits, attempts and contacts
func (s *OutreachService) GetStats(ctx context.Context, accountID string) (*model.Stats, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.CountByStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	contacts, err := s.contacts.CountByStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{
		Credits:  account.Credits,
		Draft:    attempts[model.AttemptStatusDraft],
		Sent:     attempts[model.AttemptStatusSent],
		Failed:   attempts[model.AttemptStatusFailed],
		Contacts: contacts,
	}
	stats.Total = stats.Draft + stats.Sent + stats.Failed
	return stats, nil
}

// GetHistory returns attempts newest first, optionally filtered by status
func (s *OutreachService) GetHistory(ctx context.Context, accountID string, status model.AttemptStatus, limit int) ([]*model.Attempt, error) {
	if status != "" && !status.Valid() {
		return nil, validationError("status: unknown attempt status %q", status)
	}
	return s.attempts.List(ctx, accountID, status, s.clampLimit(limit))
}

// ListContacts returns contacts newest first, optionally filtered by status
func (s *OutreachService) ListContacts(ctx context.Context, accountID string, status model.ContactStatus, limit int) ([]*model.Contact, error) {
	if status != "" && !status.Valid() {
		return nil, validationError("status: unknown contact status %q", status)
	}
	return s.contacts.List(ctx, accountID, status, s.clampLimit(limit))
}

func (s *OutreachService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.Outreach.HistoryDefaultLimit
	}
	return min(limit, s.cfg.Outreach.HistoryMaxLimit)
}

func (s *OutreachService) getAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

func (s *OutreachService) authenticate(ctx context.Context, account *model.Account) (mailer.Mailbox, error) {
	mailbox, err := s.provider.Authenticate(ctx, account)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("mail provider authentication failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderAuth, err)
	}
	return mailbox, nil
}

func (s *OutreachService) release(lease Lease) {
	if err := lease.Release(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("failed to release lock")
	}
}

func contactFields(c *model.Contact) generator.ContactFields {
	return generator.ContactFields{
		Name:        c.Name,
		Email:       c.Email,
		Company:     c.Company,
		Role:        c.Role,
		CompanyType: c.CompanyType,
		Notes:       c.Notes,
	}
}
