package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/dedup"
	"github.com/outreachpro/outreach/internal/generator"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/mailer"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the four repositories. Every
// method copies values in and out so callers never share memory with it.
type memStore struct {
	mu         sync.Mutex
	accounts   map[string]*model.Account
	ledger     []model.CreditTransaction
	contacts   []*model.Contact
	contactKey map[string]struct{}
	attempts   []*model.Attempt
	batches    map[string]*model.Batch
	seq        time.Time
}

func newMemStore() *memStore {
	return &memStore{
		accounts:   make(map[string]*model.Account),
		contactKey: make(map[string]struct{}),
		batches:    make(map[string]*model.Batch),
		seq:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick gives rows strictly increasing creation times
func (m *memStore) tick() time.Time {
	m.seq = m.seq.Add(time.Millisecond)
	return m.seq
}

// accounts

func (m *memStore) Create(ctx context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return repository.ErrDuplicate
		}
	}
	cp := *a
	m.accounts[a.ID] = &cp
	m.ledger = append(m.ledger, model.CreditTransaction{
		ID: uuid.NewString(), AccountID: a.ID, Kind: model.CreditKindGrant,
		Amount: a.Credits, BalanceAfter: a.Credits, CreatedAt: m.tick(),
	})
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateTokens(ctx context.Context, id, access, refresh string, expiry *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.AccessToken = access
	if refresh != "" {
		a.RefreshToken = refresh
	}
	a.TokenExpiry = expiry
	return nil
}

func (m *memStore) AddCredits(ctx context.Context, id string, amount int, kind model.CreditKind, reference string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if reference != "" && kind == model.CreditKindPurchase {
		for _, tx := range m.ledger {
			if tx.AccountID == id && tx.Kind == kind && tx.Reference == reference {
				return 0, repository.ErrDuplicate
			}
		}
	}
	a.Credits += amount
	m.ledger = append(m.ledger, model.CreditTransaction{
		ID: uuid.NewString(), AccountID: id, Kind: kind, Amount: amount,
		BalanceAfter: a.Credits, Reference: reference, CreatedAt: m.tick(),
	})
	return a.Credits, nil
}

func (m *memStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]*model.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CreditTransaction
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].AccountID == accountID {
			tx := m.ledger[i]
			out = append(out, &tx)
		}
	}
	return out, nil
}

func (m *memStore) setCredits(id string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id].Credits = credits
}

// contacts

type memContacts struct{ *memStore }

func (m memContacts) Insert(ctx context.Context, c *model.Contact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.AccountID + "/" + dedup.Key(c.Email, c.Company)
	if _, ok := m.contactKey[key]; ok {
		return false, nil
	}
	m.contactKey[key] = struct{}{}
	cp := *c
	cp.CreatedAt = m.tick()
	m.contacts = append(m.contacts, &cp)
	return true, nil
}

func (m memContacts) Exists(ctx context.Context, accountID, email, company string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.contactKey[accountID+"/"+dedup.Key(email, company)]
	return ok, nil
}

func (m memContacts) ListEligible(ctx context.Context, accountID string, limit int) ([]*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drafted := make(map[string]bool)
	for _, a := range m.attempts {
		drafted[a.ContactID] = true
	}
	var out []*model.Contact
	for _, c := range m.contacts {
		if c.AccountID == accountID && c.Status == model.ContactStatusNew && !drafted[c.ID] && len(out) < limit {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memContacts) List(ctx context.Context, accountID string, status model.ContactStatus, limit int) ([]*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Contact
	for i := len(m.contacts) - 1; i >= 0 && len(out) < limit; i-- {
		c := m.contacts[i]
		if c.AccountID == accountID && (status == "" || c.Status == status) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memContacts) CountByStatus(ctx context.Context, accountID string) (map[model.ContactStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.ContactStatus]int)
	for _, c := range m.contacts {
		if c.AccountID == accountID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

// attempts

type memAttempts struct{ *memStore }

func (m memAttempts) CommitDrafts(ctx context.Context, accountID string, attempts []*model.Attempt) ([]*model.Attempt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, 0, repository.ErrInsufficientCredits
	}

	drafted := make(map[string]bool)
	for _, at := range m.attempts {
		if at.ContactID != "" {
			drafted[at.ContactID] = true
		}
	}
	var committed []*model.Attempt
	for _, at := range attempts {
		if at.ContactID != "" && drafted[at.ContactID] {
			continue
		}
		drafted[at.ContactID] = true
		committed = append(committed, at)
	}

	if a.Credits < len(committed) {
		return nil, 0, repository.ErrInsufficientCredits
	}
	if len(committed) == 0 {
		return nil, a.Credits, nil
	}
	a.Credits -= len(committed)
	contacted := make(map[string]bool)
	for _, at := range committed {
		cp := *at
		cp.CreatedAt = m.tick()
		m.attempts = append(m.attempts, &cp)
		contacted[at.ContactID] = true
	}
	for _, c := range m.contacts {
		if contacted[c.ID] {
			c.Status = model.ContactStatusContacted
		}
	}
	m.ledger = append(m.ledger, model.CreditTransaction{
		ID: uuid.NewString(), AccountID: accountID, Kind: model.CreditKindDraftDebit,
		Amount: -len(committed), BalanceAfter: a.Credits, CreatedAt: m.tick(),
	})
	return committed, a.Credits, nil
}

func (m memAttempts) GetByID(ctx context.Context, accountID, id string) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ID == id && a.AccountID == accountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memAttempts) ListIDsByStatus(ctx context.Context, accountID string, status model.AttemptStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, a := range m.attempts {
		if a.AccountID == accountID && a.Status == status {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (m memAttempts) List(ctx context.Context, accountID string, status model.AttemptStatus, limit int) ([]*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Attempt
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.attempts[i]
		if a.AccountID == accountID && (status == "" || a.Status == status) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memAttempts) CountByStatus(ctx context.Context, accountID string) (map[model.AttemptStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.AttemptStatus]int)
	for _, a := range m.attempts {
		if a.AccountID == accountID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (m memAttempts) MarkSent(ctx context.Context, accountID, id, messageID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ID == id && a.AccountID == accountID && a.Status == model.AttemptStatusDraft && a.ProviderDraftID != nil {
			a.Status = model.AttemptStatusSent
			a.ProviderMessageID = &messageID
			a.SentAt = &sentAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m memAttempts) insert(a *model.Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.CreatedAt = m.tick()
	m.attempts = append(m.attempts, &cp)
}

// batches

type memBatches struct{ *memStore }

func (m memBatches) Create(ctx context.Context, b *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.AttemptIDs = append([]string(nil), b.AttemptIDs...)
	m.batches[b.ID] = &cp
	return nil
}

func (m memBatches) GetByID(ctx context.Context, accountID, id string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.AccountID != accountID {
		return nil, repository.ErrNotFound
	}
	cp := *b
	cp.AttemptIDs = append([]string(nil), b.AttemptIDs...)
	return &cp, nil
}

func (m memBatches) GetStatus(ctx context.Context, id string) (model.BatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return b.Status, nil
}

func (m memBatches) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.Status != model.BatchStatusQueued {
		return repository.ErrConflict
	}
	b.Status = model.BatchStatusRunning
	b.StartedAt = &startedAt
	return nil
}

func (m memBatches) UpdateProgress(ctx context.Context, id string, sent, failed, skipped int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		b.Sent, b.Failed, b.Skipped = sent, failed, skipped
	}
	return nil
}

func (m memBatches) Finish(ctx context.Context, id string, status model.BatchStatus, errMsg string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.Status.Terminal() {
		return nil
	}
	b.Status = status
	b.Error = errMsg
	b.FinishedAt = &finishedAt
	return nil
}

func (m memBatches) Cancel(ctx context.Context, accountID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.AccountID != accountID {
		return repository.ErrNotFound
	}
	if b.Status.Terminal() {
		return repository.ErrConflict
	}
	b.Status = model.BatchStatusCancelled
	b.FinishedAt = &at
	return nil
}

func (m memBatches) AbortStale(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.batches {
		if !b.Status.Terminal() {
			b.Status = model.BatchStatusAborted
			b.Error = "process restarted"
			b.FinishedAt = &at
			n++
		}
	}
	return n, nil
}

// fakeProvider records drafts and sends. Failures are keyed by recipient
// for drafts and by draft id for sends.
type fakeProvider struct {
	mu          sync.Mutex
	authErr     error
	authCalls   int
	draftErr    map[string]error
	sendErr     map[string]error
	drafts      map[string]mailer.Draft
	created     int
	sent        []string
	deleted     []string
	draftToAddr map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		draftErr:    make(map[string]error),
		sendErr:     make(map[string]error),
		drafts:      make(map[string]mailer.Draft),
		draftToAddr: make(map[string]string),
	}
}

func (p *fakeProvider) Authenticate(ctx context.Context, account *model.Account) (mailer.Mailbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authCalls++
	if p.authErr != nil {
		return nil, p.authErr
	}
	if !account.HasMailboxCredentials() {
		return nil, mailer.ErrNotAuthenticated
	}
	return p, nil
}

func (p *fakeProvider) CreateDraft(ctx context.Context, d mailer.Draft) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.draftErr[d.To]; err != nil {
		return "", err
	}
	p.created++
	id := fmt.Sprintf("draft-%d", p.created)
	p.drafts[id] = d
	p.draftToAddr[id] = d.To
	return id, nil
}

func (p *fakeProvider) SendDraft(ctx context.Context, draftID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendErr[draftID]; err != nil {
		return "", err
	}
	if _, ok := p.drafts[draftID]; !ok {
		return "", errors.New("draft not found")
	}
	p.sent = append(p.sent, draftID)
	return "msg-" + draftID, nil
}

func (p *fakeProvider) DeleteDraft(ctx context.Context, draftID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.drafts[draftID]; !ok {
		return errors.New("draft not found")
	}
	delete(p.drafts, draftID)
	p.deleted = append(p.deleted, draftID)
	return nil
}

func (p *fakeProvider) deletedDrafts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakeProvider) failAuth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authErr = err
}

func (p *fakeProvider) failDraftTo(email string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draftErr[email] = err
}

func (p *fakeProvider) failSend(draftID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr[draftID] = err
}

func (p *fakeProvider) sentDrafts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakeProvider) draftCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.drafts)
}

// fakeGenerator renders a fixed subject and fails for listed recipients.
// onGenerate, when set, runs before each generation.
type fakeGenerator struct {
	fail       map[string]bool
	onGenerate func(c generator.ContactFields)
}

func (g *fakeGenerator) Generate(ctx context.Context, c generator.ContactFields, hasAttachments bool) (generator.Content, error) {
	if g.onGenerate != nil {
		g.onGenerate(c)
	}
	if g.fail[c.Email] {
		return generator.Content{}, errors.New("generation failed")
	}
	return generator.Content{
		Subject: "Opportunities at " + c.CompanyOrDefault(),
		Body:    "Hi " + c.FirstName(),
	}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store      *memStore
	contacts   memContacts
	attempts   memAttempts
	batches    memBatches
	provider   *fakeProvider
	gen        *fakeGenerator
	clock      *fakeClock
	cfg        *config.Config
	rdb        *database.Redis
	mr         *miniredis.Miniredis
	accounts   *AccountService
	credits    *CreditService
	imports    *ImportService
	outreach   *OutreachService
	dispatcher *Dispatcher

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func testConfig() *config.Config {
	return &config.Config{
		Outreach: config.OutreachConfig{
			InitialCredits:      10,
			DefaultBatchDelay:   30 * time.Second,
			MaxBatchDelay:       time.Hour,
			HistoryDefaultLimit: 50,
			HistoryMaxLimit:     500,
			LockTTL:             time.Minute,
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rdb := database.NewRedisFromClient(client)

	store := newMemStore()
	h := &harness{
		store:    store,
		contacts: memContacts{store},
		attempts: memAttempts{store},
		batches:  memBatches{store},
		provider: newFakeProvider(),
		gen:      &fakeGenerator{fail: map[string]bool{}},
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		cfg:      testConfig(),
		rdb:      rdb,
		mr:       mr,
	}

	registry, err := generator.NewRegistry(generator.KindTemplate, map[string]generator.Generator{
		generator.KindTemplate: h.gen,
	})
	require.NoError(t, err)

	log := logger.Nop()
	h.accounts = NewAccountService(store, h.cfg, log)
	h.credits = NewCreditService(store, log)
	h.imports = NewImportService(h.contacts, log)
	h.outreach = NewOutreachService(store, h.contacts, h.attempts, h.provider, registry, NewRedisLocker(rdb), h.cfg, log)
	h.outreach.now = h.clock.Now
	h.dispatcher = NewDispatcher(h.outreach, h.batches, h.cfg, log)
	h.dispatcher.now = h.clock.Now
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.sleepMu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.sleepMu.Unlock()
		h.clock.Advance(d)
		return nil
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.dispatcher.Shutdown(ctx)
	})
	return h
}

// newAccount creates an account with a connected mailbox and the given credits
func (h *harness) newAccount(t *testing.T, credits int) string {
	t.Helper()
	ctx := context.Background()
	account, err := h.accounts.CreateAccount(ctx, uuid.NewString()+"@example.com", "Sam Rivera")
	require.NoError(t, err)
	require.NoError(t, h.accounts.ConnectMailbox(ctx, account.ID, "access", "refresh", nil))
	h.store.setCredits(account.ID, credits)
	return account.ID
}

// importContacts adds n contacts named c1..cn at distinct companies
func (h *harness) importContacts(t *testing.T, accountID string, n int) []model.ContactRecord {
	t.Helper()
	records := make([]model.ContactRecord, n)
	for i := range records {
		records[i] = model.ContactRecord{
			Name:    fmt.Sprintf("Contact %d", i+1),
			Email:   fmt.Sprintf("c%d@corp%d.example", i+1, i+1),
			Company: fmt.Sprintf("Corp %d", i+1),
			Role:    "ML Engineer",
		}
	}
	_, err := h.imports.ImportContacts(context.Background(), accountID, append([]model.ContactRecord(nil), records...))
	require.NoError(t, err)
	return records
}

// draftAll drafts every eligible contact and returns the attempt ids in creation order
func (h *harness) draftAll(t *testing.T, accountID string) []string {
	t.Helper()
	_, err := h.outreach.CreateDraftsForNewContacts(context.Background(), accountID, DraftOptions{})
	require.NoError(t, err)
	ids, err := h.attempts.ListIDsByStatus(context.Background(), accountID, model.AttemptStatusDraft)
	require.NoError(t, err)
	return ids
}

func (h *harness) attempt(t *testing.T, accountID, id string) *model.Attempt {
	t.Helper()
	a, err := h.attempts.GetByID(context.Background(), accountID, id)
	require.NoError(t, err)
	return a
}

func (h *harness) recordedSleeps() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}
